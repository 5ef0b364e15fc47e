// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cipherbox

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpointRoundTrip(t *testing.T) {
	cases := []string{"inprocess", "unassigned", "remote,relay.example.com:443", "https,store.example.com"}
	for _, s := range cases {
		ep, err := ParseEndpoint(s)
		require.NoError(t, err)
		assert.Equal(t, s, ep.String())
	}
}

func TestParseEndpointRejectsUnknownTransport(t *testing.T) {
	_, err := ParseEndpoint("carrier-pigeon,loft")
	require.Error(t, err)
}

func TestEndpointJSONRoundTrip(t *testing.T) {
	ep, err := ParseEndpoint("remote,relay.example.com:443")
	require.NoError(t, err)

	b, err := json.Marshal(ep)
	require.NoError(t, err)

	var got Endpoint
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, ep, got)
}

func TestShareActive(t *testing.T) {
	s := Share{}
	assert.True(t, s.Active())

	now := time.Now()
	s.RevokedAt = &now
	assert.False(t, s.Active())
}
