// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cipherbox

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Transport identifies the kind of network connection used to reach an
// external collaborator (the object store, the name-routing relay, or
// the TEE).
type Transport int

// The recognized transports.
const (
	Unassigned Transport = iota
	InProcess
	Remote
	HTTPS
)

// NetAddr is a network address in a transport-specific format.
type NetAddr string

// Endpoint represents the network address of an external collaborator.
type Endpoint struct {
	Transport Transport
	NetAddr   NetAddr
}

// ParseEndpoint parses the string representation of an endpoint, in the
// form "<transport>,<netaddr>" (or bare "inprocess"/"unassigned").
func ParseEndpoint(v string) (Endpoint, error) {
	elems := strings.SplitN(v, ",", 2)
	switch elems[0] {
	case "inprocess":
		return Endpoint{Transport: InProcess}, nil
	case "remote":
		if len(elems) < 2 {
			return Endpoint{}, fmt.Errorf("remote endpoint %q requires a netaddr", v)
		}
		return Endpoint{Transport: Remote, NetAddr: NetAddr(elems[1])}, nil
	case "https":
		if len(elems) < 2 {
			return Endpoint{}, fmt.Errorf("https endpoint %q requires a netaddr", v)
		}
		return Endpoint{Transport: HTTPS, NetAddr: NetAddr(elems[1])}, nil
	case "unassigned":
		return Endpoint{Transport: Unassigned}, nil
	}
	return Endpoint{}, fmt.Errorf("unknown transport type in endpoint %q", v)
}

func (ep Endpoint) toString() (string, error) {
	switch ep.Transport {
	case InProcess:
		return "inprocess", nil
	case Remote:
		return fmt.Sprintf("remote,%s", string(ep.NetAddr)), nil
	case HTTPS:
		return fmt.Sprintf("https,%s", string(ep.NetAddr)), nil
	case Unassigned:
		return "unassigned", nil
	}
	return "", fmt.Errorf("unknown endpoint {%v, %v}", ep.Transport, ep.NetAddr)
}

// String converts an endpoint to its string representation.
func (ep Endpoint) String() string {
	str, err := ep.toString()
	if err != nil {
		return err.Error()
	}
	return str
}

// MarshalJSON implements json.Marshaler.
func (ep Endpoint) MarshalJSON() ([]byte, error) {
	str, err := ep.toString()
	if err != nil {
		return nil, err
	}
	return json.Marshal(str)
}

// UnmarshalJSON implements json.Unmarshaler.
func (ep *Endpoint) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseEndpoint(str)
	if err != nil {
		return err
	}
	*ep = parsed
	return nil
}
