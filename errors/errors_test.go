// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package errors

import (
	"io"
	"testing"
)

func TestMatchSingle(t *testing.T) {
	e1 := E("Publish", Name("bafzaaiexample"), SequenceUnknown, io.ErrClosedPipe)
	e, ok := e1.(*Error)
	if !ok {
		t.Fatalf("E did not return *Error")
	}
	if e.Op != "Publish" {
		t.Errorf("Op = %q, want Publish", e.Op)
	}
	if e.Name != "bafzaaiexample" {
		t.Errorf("Name = %q, want bafzaaiexample", e.Name)
	}
	if e.Kind != SequenceUnknown {
		t.Errorf("Kind = %v, want SequenceUnknown", e.Kind)
	}
}

func TestNested(t *testing.T) {
	inner := E("codec.decryptFolderMetadata", DecryptionFailed, errorAsPlain("bad tag"))
	outer := E("publish.Publish", Name("bafzaaiouter"), inner)

	e := outer.(*Error)
	if e.Kind != DecryptionFailed {
		t.Errorf("outer Kind = %v, want to inherit DecryptionFailed from inner", e.Kind)
	}
	inner2, ok := e.Err.(*Error)
	if !ok {
		t.Fatalf("inner error is not *Error")
	}
	if inner2.Kind != Other {
		t.Errorf("inner Kind should have been demoted to Other, got %v", inner2.Kind)
	}
}

func TestDoesNotChangePreviousError(t *testing.T) {
	err := E(RevokedOrNotAMember)
	_ = E("share.Revoke", err)

	kind := err.(*Error).Kind
	if kind != RevokedOrNotAMember {
		t.Fatalf("Expected kind %v, got %v", RevokedOrNotAMember, kind)
	}
}

func TestNoArgs(t *testing.T) {
	if E() != nil {
		t.Fatal("E() with no args should return nil")
	}
}

func TestIs(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
		want bool
	}{
		{nil, NameNotFound, false},
		{errorAsPlain("plain"), NameNotFound, false},
		{E(NameNotFound), NameNotFound, true},
		{E(QuotaExceeded), NameNotFound, false},
		{E("op", E(NameNotFound)), NameNotFound, true},
		{E("op", E("inner-op")), NameNotFound, false},
	}
	for i, c := range cases {
		if got := Is(c.kind, c.err); got != c.want {
			t.Errorf("case %d: Is(%v, %v) = %v, want %v", i, c.kind, c.err, got, c.want)
		}
	}
}

func TestSeparator(t *testing.T) {
	defer func(prev string) { Separator = prev }(Separator)
	Separator = ":: "

	e1 := E("inner", DecryptionFailed)
	e2 := E("outer", Name("bafzaai"), e1)

	want := "bafzaai: outer: decryption failed:: inner"
	if got := e2.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func errorAsPlain(s string) error { return Str(s) }
