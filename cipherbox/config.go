// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cipherbox defines the data model and configuration surface
// shared by every layer of the vault: core entity types, the Endpoint
// addressing scheme, and the Config interface each component depends
// on.
package cipherbox

import (
	"time"

	"cipherbox.io/keyderiv"
)

// Clock is a seam for the current time, threaded through the
// name-record engine and publish coordinator so validity windows and
// heartbeat debounce are deterministically testable.
type Clock func() time.Time

// Config describes everything a CipherBox client needs to operate: the
// environment selector (which also binds into every derived key's HKDF
// info string) and the endpoints of the three external collaborators.
type Config interface {
	Environment() keyderiv.Env
	RootSecret() *keyderiv.RootSecret
	RelayEndpoint() Endpoint
	ObjectStoreEndpoint() Endpoint
	TEEEndpoint() Endpoint
}

// config is the concrete, immutable Config implementation returned by
// the config package's loader.
type config struct {
	env          keyderiv.Env
	root         *keyderiv.RootSecret
	relay        Endpoint
	objectStore  Endpoint
	tee          Endpoint
}

// NewConfig builds a Config from its constituent parts. It is exported
// so the config package's YAML loader (and tests elsewhere) can
// construct one without reaching into an unexported struct.
func NewConfig(env keyderiv.Env, root *keyderiv.RootSecret, relay, objectStore, tee Endpoint) Config {
	return &config{env: env, root: root, relay: relay, objectStore: objectStore, tee: tee}
}

func (c *config) Environment() keyderiv.Env          { return c.env }
func (c *config) RootSecret() *keyderiv.RootSecret   { return c.root }
func (c *config) RelayEndpoint() Endpoint            { return c.relay }
func (c *config) ObjectStoreEndpoint() Endpoint      { return c.objectStore }
func (c *config) TEEEndpoint() Endpoint              { return c.tee }
