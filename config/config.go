// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads a cipherbox.Config from a YAML file plus
// CIPHERBOX_<KEY> environment-variable overrides. The surface is
// deliberately small (one environment selector, three endpoints) and
// excludes any on-disk root-secret field, since the root secret is
// issued by the external identity layer at login and must never be
// written to a config file.
package config

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	yaml "gopkg.in/yaml.v2"

	"cipherbox.io/cipherbox"
	"cipherbox.io/errors"
	"cipherbox.io/keyderiv"
	"cipherbox.io/log"
)

// Known configuration keys. All others are rejected.
const (
	keyEnvironment  = "environment"
	keyRelay        = "relayendpoint"
	keyObjectStore  = "objectstoreendpoint"
	keyTEE          = "teeendpoint"
)

// envPrefix is prepended to a configuration key, upper-cased, to form
// the environment variable that overrides it (e.g. CIPHERBOX_RELAYENDPOINT).
const envPrefix = "CIPHERBOX_"

// defaultConfigPath is where FromFile looks if name does not exist and
// is not absolute.
const defaultConfigPath = ".cipherbox/config"

var defaults = map[string]string{
	keyEnvironment: string(keyderiv.Local),
	keyRelay:       "inprocess",
	keyObjectStore: "inprocess",
	keyTEE:         "inprocess",
}

// FromFile loads a configuration from name, falling back to
// $HOME/.cipherbox/config if name does not exist and is not an
// absolute path. root is the already-derived root secret, supplied by
// the caller's login flow; it is never read from the file.
func FromFile(name string, root *keyderiv.RootSecret) (cipherbox.Config, error) {
	const op = "config.FromFile"
	f, err := os.Open(name)
	if err != nil && !filepath.IsAbs(name) && os.IsNotExist(err) {
		home, errHome := os.UserHomeDir()
		if errHome == nil {
			f, err = os.Open(filepath.Join(home, defaultConfigPath))
		}
	}
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.E(op, errors.NameNotFound, err)
		}
		return nil, errors.E(op, err)
	}
	defer f.Close()
	return InitConfig(f, root)
}

// InitConfig builds a cipherbox.Config from a YAML reader (of the form
// "key: value" for environment, relayendpoint, objectstoreendpoint,
// teeendpoint) plus any CIPHERBOX_<KEY> environment overrides, bound to
// the already-derived root secret. If r is nil, only defaults and
// environment overrides apply.
func InitConfig(r io.Reader, root *keyderiv.RootSecret) (cipherbox.Config, error) {
	const op = "config.InitConfig"
	vals := make(map[string]string, len(defaults))
	for k, v := range defaults {
		vals[k] = v
	}

	if r != nil {
		data, err := ioutil.ReadAll(r)
		if err != nil {
			return nil, errors.E(op, err)
		}
		if err := valsFromYAML(vals, data); err != nil {
			return nil, errors.E(op, err)
		}
	}
	applyEnvOverrides(vals)

	env := keyderiv.Env(vals[keyEnvironment])
	if !env.Valid() {
		return nil, errors.E(op, errors.Str("unknown environment: "+vals[keyEnvironment]))
	}

	relay, err := cipherbox.ParseEndpoint(vals[keyRelay])
	if err != nil {
		return nil, errors.E(op, err)
	}
	objectStore, err := cipherbox.ParseEndpoint(vals[keyObjectStore])
	if err != nil {
		return nil, errors.E(op, err)
	}
	tee, err := cipherbox.ParseEndpoint(vals[keyTEE])
	if err != nil {
		return nil, errors.E(op, err)
	}

	return cipherbox.NewConfig(env, root, relay, objectStore, tee), nil
}

// valsFromYAML parses data as a flat "key: value" YAML map and merges
// recognized keys into vals, rejecting any key it doesn't know about.
func valsFromYAML(vals map[string]string, data []byte) error {
	const op = "config.valsFromYAML"
	var parsed map[string]string
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return errors.E(op, err)
	}
	for k, v := range parsed {
		if _, known := defaults[k]; !known {
			return errors.E(op, errors.Errorf("unknown configuration key %q", k))
		}
		vals[k] = v
	}
	return nil
}

// applyEnvOverrides overwrites vals with any set CIPHERBOX_<KEY>
// environment variables, logging which keys were overridden so a
// surprising effective config can be traced back to the environment.
func applyEnvOverrides(vals map[string]string) {
	for k := range vals {
		envVar := envPrefix + upper(k)
		if v, ok := os.LookupEnv(envVar); ok {
			vals[k] = v
			log.Debug.Printf("config: %s overridden by %s", k, envVar)
		}
	}
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}
