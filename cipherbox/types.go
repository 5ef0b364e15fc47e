// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cipherbox

import "time"

// ChildKind distinguishes the two kinds of FolderChild (and, by
// extension, PublishEntry and Share.ItemType).
type ChildKind string

// The recognized child kinds.
const (
	KindFolder ChildKind = "folder"
	KindFile   ChildKind = "file"
)

// FolderMetadataVersion is the only FolderMetadata version this module
// produces or accepts; decryptFolderMetadata rejects any other value.
const FolderMetadataVersion = "v2"

// FileMetadataVersion is the only FileMetadata version this module
// produces or accepts.
const FileMetadataVersion = "v1"

// FolderMetadata is the decrypted contents of a folder's metadata
// record: the ordered list of its children.
type FolderMetadata struct {
	Version  string        `json:"version"`
	Children []FolderChild `json:"children"`
}

// FolderChild is either a FolderPointer or a FilePointer, distinguished
// by Type. Both shapes share one Go struct (rather than an interface
// with two implementations) because that is exactly how the wire JSON
// looks: one object, a type tag, and fields that are populated or left
// zero depending on which kind it is.
type FolderChild struct {
	Type      ChildKind `json:"type"`
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`

	// FolderPointer fields (Type == KindFolder).
	ChildName           string `json:"childName,omitempty"`
	EncWrappedPrivKey   string `json:"encWrappedPrivKey,omitempty"`
	EncWrappedFolderKey string `json:"encWrappedFolderKey,omitempty"`

	// FilePointer fields (Type == KindFile).
	FileMetaName string `json:"fileMetaName,omitempty"`
}

// EncryptionMode names the symmetric cipher mode a FileMetadata's bytes
// are sealed under.
type EncryptionMode string

// The recognized encryption modes.
const (
	ModeGCM EncryptionMode = "GCM"
	ModeCTR EncryptionMode = "CTR"
)

// FileMetadata is the decrypted contents of a per-file metadata record.
type FileMetadata struct {
	Version          string         `json:"version"`
	CID              string         `json:"cid"`
	FileKeyEncrypted string         `json:"fileKeyEncrypted"`
	FileIV           string         `json:"fileIv"`
	Size             int64          `json:"size"`
	MimeType         string         `json:"mimeType"`
	EncryptionMode   EncryptionMode `json:"encryptionMode"`
	CreatedAt        time.Time      `json:"createdAt"`
	ModifiedAt       time.Time      `json:"modifiedAt"`
}

// Envelope is the on-wire encrypted form of a serialized metadata
// record, stored as a single content-addressed blob.
type Envelope struct {
	IV   string `json:"iv"`
	Data string `json:"data"`
}

// ValidityType enumerates how a NameRecord's Validity field is
// interpreted. CipherBox only ever produces EOL (absolute expiry).
type ValidityType int

// ValidityEOL is the only ValidityType this module produces.
const ValidityEOL ValidityType = 0

// NameRecord is a parsed, and possibly verified, V2 mutable name
// record. PubKey is nil if the record's wire form didn't carry a
// recognizable libp2p Ed25519 public key; SignatureV2 and Data are nil
// if the record carried no signature at all. Callers MUST check
// Verified rather than inferring trust from a non-nil PubKey.
type NameRecord struct {
	Value        string
	Sequence     uint64
	Validity     time.Time
	ValidityType ValidityType
	SignatureV2  []byte
	Data         []byte
	PubKey       []byte
	Verified     bool
}

// PublishEntry is the unit exchanged with the external publish relay.
type PublishEntry struct {
	Name                 string
	Sequence             uint64
	CID                  string
	RecordBytes          []byte
	EncWrappedSigningKey []byte
	TEEEpoch             string
	Kind                 ChildKind
}

// Share represents one outbound share of a folder or file to a
// recipient's public key.
type Share struct {
	ShareID      string
	SharerPub    []byte
	RecipientPub []byte
	ItemType     ChildKind
	IPNSName     string
	ItemName     string
	EncryptedKey string
	CreatedAt    time.Time
	RevokedAt    *time.Time
}

// Active reports whether the share has not been revoked.
func (s Share) Active() bool {
	return s.RevokedAt == nil
}

// ShareKey rewraps a descendant folder or file key for a share's
// recipient.
type ShareKey struct {
	ShareID      string
	ItemType     ChildKind
	ItemID       string
	EncryptedKey string
}

// DeviceStatus is the lifecycle state of one entry in a DeviceRegistry.
type DeviceStatus string

// The recognized device statuses.
const (
	DeviceAuthorized DeviceStatus = "authorized"
	DevicePending    DeviceStatus = "pending"
	DeviceRevoked    DeviceStatus = "revoked"
)

// DeviceEntry describes one device enrolled in a user's registry.
type DeviceEntry struct {
	DeviceID   string       `json:"deviceId"`
	Platform   string       `json:"platform"`
	Status     DeviceStatus `json:"status"`
	LastSeenAt time.Time    `json:"lastSeenAt"`
}

// DeviceRegistry is the sealed, versioned list of a user's devices.
type DeviceRegistry struct {
	Version  string        `json:"version"`
	Sequence uint64        `json:"sequence"`
	Devices  []DeviceEntry `json:"devices"`
}
