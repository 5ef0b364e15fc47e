// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cipherbox.io/cipherbox"
	"cipherbox.io/keyderiv"
)

func testRoot(t *testing.T) *keyderiv.RootSecret {
	root, err := keyderiv.NewRootSecret(make([]byte, keyderiv.RootSecretLen))
	require.NoError(t, err)
	return root
}

func TestInitConfigDefaults(t *testing.T) {
	cfg, err := InitConfig(nil, testRoot(t))
	require.NoError(t, err)
	assert.Equal(t, keyderiv.Local, cfg.Environment())
	assert.Equal(t, cipherbox.InProcess, cfg.RelayEndpoint().Transport)
	assert.Equal(t, cipherbox.InProcess, cfg.ObjectStoreEndpoint().Transport)
	assert.Equal(t, cipherbox.InProcess, cfg.TEEEndpoint().Transport)
}

func TestInitConfigParsesYAML(t *testing.T) {
	yaml := strings.NewReader(`
environment: staging
relayendpoint: "remote,relay.example.com:443"
objectstoreendpoint: "https,store.example.com:443"
teeendpoint: "remote,tee.example.com:443"
`)
	cfg, err := InitConfig(yaml, testRoot(t))
	require.NoError(t, err)
	assert.Equal(t, keyderiv.Staging, cfg.Environment())
	assert.Equal(t, cipherbox.Remote, cfg.RelayEndpoint().Transport)
	assert.Equal(t, cipherbox.NetAddr("relay.example.com:443"), cfg.RelayEndpoint().NetAddr)
	assert.Equal(t, cipherbox.HTTPS, cfg.ObjectStoreEndpoint().Transport)
}

func TestInitConfigRejectsUnknownKey(t *testing.T) {
	yaml := strings.NewReader("bogus: value\n")
	_, err := InitConfig(yaml, testRoot(t))
	require.Error(t, err)
}

func TestInitConfigRejectsUnknownEnvironment(t *testing.T) {
	yaml := strings.NewReader("environment: wonderland\n")
	_, err := InitConfig(yaml, testRoot(t))
	require.Error(t, err)
}

func TestInitConfigEnvOverride(t *testing.T) {
	t.Setenv("CIPHERBOX_ENVIRONMENT", "ci")
	cfg, err := InitConfig(nil, testRoot(t))
	require.NoError(t, err)
	assert.Equal(t, keyderiv.CI, cfg.Environment())
}

func TestInitConfigBindsCallerSuppliedRootSecret(t *testing.T) {
	root := testRoot(t)
	cfg, err := InitConfig(nil, root)
	require.NoError(t, err)
	assert.Same(t, root, cfg.RootSecret())
}
