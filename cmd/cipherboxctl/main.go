// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Cipherboxctl is a simple utility for exercising the cipherbox core
// packages end to end. It wires the config, keyderiv, crypto, codec,
// name, publish, share, and tee
// packages together against the in-process transport doubles
// (cipherbox.io/transport/inprocess, cipherbox.io/tee/inprocess) since
// a real relay/object-store/TEE deployment's wire transport is out of
// scope here; every invocation starts from an empty in-memory world; it
// is exercise and integration-smoke tooling, not a persistent client.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"cipherbox.io/cipherbox"
	"cipherbox.io/codec"
	"cipherbox.io/config"
	"cipherbox.io/crypto"
	"cipherbox.io/errors"
	"cipherbox.io/keyderiv"
	"cipherbox.io/log"
	"cipherbox.io/name"
	"cipherbox.io/publish"
	"cipherbox.io/share"
	"cipherbox.io/tee"
	teeinprocess "cipherbox.io/tee/inprocess"
	"cipherbox.io/transport/inprocess"
)

var commands = map[string]func(*State, ...string){
	"create-vault": (*State).createVault,
	"put":          (*State).put,
	"share":        (*State).share,
	"revoke":       (*State).revoke,
	"enroll-tee":   (*State).enrollTEE,
}

// State holds the one world a single cipherboxctl invocation runs
// against: an owner identity derived from -root, and a fresh set of
// in-process transport doubles wired together the way a real process
// would wire its remote clients.
type State struct {
	op        string
	cfg       cipherbox.Config
	root      *keyderiv.RootSecret
	ownerPub  []byte
	ownerPriv *crypto.Secret

	relay  *inprocess.Relay
	store  *inprocess.Store
	shares *inprocess.ShareStore
	teed   *teeinprocess.TEE

	pub         *publish.Coordinator
	shareEngine *share.Engine
	enroller    *tee.Enroller

	exitCode int
}

func main() {
	flag.Usage = usage
	rootHex := flag.String("root", "", "hex-encoded 32-byte root secret (required)")
	envFlag := flag.String("env", "", "deployment environment override (local, ci, staging, production)")
	configPath := flag.String("config", "", "path to a cipherbox config file")
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	op := strings.ToLower(flag.Arg(0))
	fn := commands[op]
	if fn == nil {
		fmt.Fprintf(os.Stderr, "cipherboxctl: no such command %q\n", flag.Arg(0))
		usage()
	}

	state := newState(op, *rootHex, *envFlag, *configPath)
	fn(state, flag.Args()[1:]...)
	log.Flush()
	os.Exit(state.exitCode)
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage of cipherboxctl:\n")
	fmt.Fprintf(os.Stderr, "\tcipherboxctl [globalflags] <command> [flags] <args>\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	var names []string
	for cmd := range commands {
		names = append(names, cmd)
	}
	sort.Strings(names)
	for _, cmd := range names {
		fmt.Fprintf(os.Stderr, "\t%s\n", cmd)
	}
	fmt.Fprintf(os.Stderr, "Global flags:\n")
	flag.PrintDefaults()
	os.Exit(2)
}

func newState(op, rootHex, envFlag, configPath string) *State {
	s := &State{op: op}

	rootBytes, err := crypto.HexDecode(rootHex)
	if err != nil || len(rootBytes) != keyderiv.RootSecretLen {
		s.exitf("a 64-hex-char -root value is required")
	}
	root, err := keyderiv.NewRootSecret(rootBytes)
	if err != nil {
		s.exit(err)
	}
	s.root = root

	var cfg cipherbox.Config
	if configPath != "" {
		cfg, err = config.FromFile(configPath, root)
	} else {
		cfg, err = config.InitConfig(nil, root)
	}
	if err != nil {
		s.exit(err)
	}
	if envFlag != "" {
		os.Setenv("CIPHERBOX_ENVIRONMENT", envFlag)
		cfg, err = config.InitConfig(nil, root)
		if err != nil {
			s.exit(err)
		}
	}
	s.cfg = cfg

	ownerPriv, ownerPub, err := keyderiv.DeriveOwnerKey(root, cfg.Environment())
	if err != nil {
		s.exit(err)
	}
	s.ownerPriv = ownerPriv
	s.ownerPub = ownerPub

	s.relay = inprocess.NewRelay()
	s.store = inprocess.NewStore()
	s.shares = inprocess.NewShareStore(clockNow)
	teed, err := teeinprocess.NewTEE(s.relay, clockNow)
	if err != nil {
		s.exit(err)
	}
	s.teed = teed

	// Route the process log through the TEE double's audit sink so one
	// flushed record interleaves client operations with TEE-side
	// republishes.
	log.SetOutput(nil)
	log.Register(teeinprocess.NewAuditLog(os.Stderr))

	s.pub = publish.New(s.relay, clockNow)
	s.shareEngine = share.New(s.shares, &fetcher{relay: s.relay, store: s.store}, clockNow)
	s.enroller = tee.NewEnroller(s.teed)
	return s
}

func (s *State) exitf(format string, args ...interface{}) {
	log.Flush()
	fmt.Fprintf(os.Stderr, "cipherboxctl: %s: %s\n", s.op, fmt.Sprintf(format, args...))
	os.Exit(1)
}

func (s *State) exit(err error) {
	s.exitf("%s", err)
}

func (s *State) subUsage(fs *flag.FlagSet, msg string) func() {
	return func() {
		fmt.Fprintf(os.Stderr, "Usage: cipherboxctl %s\n", msg)
		n := 0
		fs.VisitAll(func(*flag.Flag) { n++ })
		if n > 0 {
			fmt.Fprintf(os.Stderr, "Flags:\n")
			fs.PrintDefaults()
		}
		os.Exit(2)
	}
}

// createVault derives a fresh folder key, publishes an empty root
// folder under its own Name, enrolls the folder's signing key with the
// TEE for scheduled republish, and prints the resulting Name.
func (s *State) createVault(args ...string) {
	fs := flag.NewFlagSet("create-vault", flag.ExitOnError)
	fs.Usage = s.subUsage(fs, "create-vault <folder-id>")
	if err := fs.Parse(args); err != nil {
		s.exit(err)
	}
	if fs.NArg() != 1 {
		fs.Usage()
	}
	folderID := fs.Arg(0)
	ctx := context.Background()

	// The folder's Ed25519 signing keypair and its AES metadata key are
	// two independent secrets, each derived from the root under its own
	// HKDF domain; a parent FolderPointer wraps them as two separate
	// fields.
	folderPriv, folderPub, err := keyderiv.DeriveFolderKey(s.root, s.cfg.Environment(), folderID)
	if err != nil {
		s.exit(err)
	}
	folderKey := s.folderKey(folderID)

	meta := cipherbox.FolderMetadata{Version: cipherbox.FolderMetadataVersion}
	env, err := codec.EncryptFolderMetadata(meta, folderKey)
	if err != nil {
		s.exit(err)
	}

	blob, err := json.Marshal(env)
	if err != nil {
		s.exit(err)
	}
	cid, err := s.store.Add(ctx, blob)
	if err != nil {
		s.exit(err)
	}

	base36, err := derivedName(folderPub)
	if err != nil {
		s.exit(err)
	}

	wrapped, epoch, err := s.enroller.Enroll(ctx, base36, folderPriv)
	if err != nil {
		s.exit(err)
	}

	rec, err := s.pub.Publish(ctx, publish.Request{
		Name:                 base36,
		CID:                  cid,
		SigningKey:           folderPriv,
		PubKey:               folderPub,
		Kind:                 cipherbox.KindFolder,
		EncWrappedSigningKey: wrapped,
		TEEEpoch:             epoch,
	})
	if err != nil {
		s.exit(err)
	}

	wrappedFolderKey, err := crypto.WrapKey(folderKey.Bytes(), s.ownerPub)
	if err != nil {
		s.exit(err)
	}

	fmt.Printf("vault created\n  name: %s\n  sequence: %d\n  folder key (wrapped hex): %s\n",
		base36, rec.Sequence, crypto.HexEncode(wrappedFolderKey))
}

// put adds a new file child to an existing folder: it encrypts the
// file's bytes, stores the ciphertext and file metadata, appends a
// FolderChild to the folder metadata, and republishes the folder.
func (s *State) put(args ...string) {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	fs.Usage = s.subUsage(fs, "put <folder-id> <child-id> <child-name> <local-path>")
	if err := fs.Parse(args); err != nil {
		s.exit(err)
	}
	if fs.NArg() != 4 {
		fs.Usage()
	}
	folderID, childID, childName, path := fs.Arg(0), fs.Arg(1), fs.Arg(2), fs.Arg(3)
	ctx := context.Background()

	data, err := os.ReadFile(path)
	if err != nil {
		s.exit(err)
	}

	// The caller supplies the already-unwrapped folder key out of
	// band in a real client (it would come from the owning
	// FolderPointer); this harness re-derives it directly from the
	// root using the same folder-id createVault was given, since
	// folder-id (not the derived Name) is the stable input a real
	// client would have kept from creation time.
	folderPriv, folderPub, err := keyderiv.DeriveFolderKey(s.root, s.cfg.Environment(), folderID)
	if err != nil {
		s.exit(err)
	}
	folderSymKey := s.folderKey(folderID)

	vaultName, err := derivedName(folderPub)
	if err != nil {
		s.exit(err)
	}

	res, err := s.relay.Resolve(ctx, vaultName)
	if err != nil {
		s.exit(err)
	}
	if !res.Found {
		s.exitf("vault %s has no published record", vaultName)
	}

	folderBlob, err := s.store.Get(ctx, res.CID)
	if err != nil {
		s.exit(err)
	}
	var folderEnv cipherbox.Envelope
	if err := json.Unmarshal(folderBlob, &folderEnv); err != nil {
		s.exit(err)
	}

	meta, err := codec.DecryptFolderMetadata(folderEnv, folderSymKey)
	if err != nil {
		s.exit(err)
	}

	iv, err := crypto.GenerateRandomBytes(crypto.GCMNonceLen)
	if err != nil {
		s.exit(err)
	}
	ciphertext, err := crypto.AESGCMSeal(data, folderSymKey.Bytes(), iv)
	if err != nil {
		s.exit(err)
	}
	cid, err := s.store.Add(ctx, ciphertext)
	if err != nil {
		s.exit(err)
	}

	fileKey, err := crypto.GenerateRandomBytes(crypto.AESKeyLen)
	if err != nil {
		s.exit(err)
	}
	wrappedFileKey, err := crypto.WrapKey(fileKey, s.ownerPub)
	if err != nil {
		s.exit(err)
	}

	fileMeta := cipherbox.FileMetadata{
		Version:          cipherbox.FileMetadataVersion,
		CID:              cid,
		FileKeyEncrypted: crypto.HexEncode(wrappedFileKey),
		FileIV:           crypto.HexEncode(iv),
		Size:             int64(len(data)),
		EncryptionMode:   cipherbox.ModeGCM,
		CreatedAt:        clockNow(),
		ModifiedAt:       clockNow(),
	}
	fileEnv, err := codec.EncryptFileMetadata(fileMeta, folderSymKey)
	if err != nil {
		s.exit(err)
	}
	fileBlob, err := json.Marshal(fileEnv)
	if err != nil {
		s.exit(err)
	}
	fileMetaCID, err := s.store.Add(ctx, fileBlob)
	if err != nil {
		s.exit(err)
	}

	meta.Children = append(meta.Children, cipherbox.FolderChild{
		Type:         cipherbox.KindFile,
		ID:           childID,
		Name:         childName,
		CreatedAt:    clockNow(),
		FileMetaName: fileMetaCID,
	})
	if err := codec.ValidateUniqueChildNames(meta); err != nil {
		s.exit(err)
	}

	newFolderEnv, err := codec.EncryptFolderMetadata(meta, folderSymKey)
	if err != nil {
		s.exit(err)
	}
	newFolderBlob, err := json.Marshal(newFolderEnv)
	if err != nil {
		s.exit(err)
	}
	newFolderCID, err := s.store.Add(ctx, newFolderBlob)
	if err != nil {
		s.exit(err)
	}

	signingPub, err := crypto.Ed25519PublicFromPrivate(folderPriv)
	if err != nil {
		s.exit(err)
	}
	rec, err := s.pub.Publish(ctx, publish.Request{Name: vaultName, CID: newFolderCID, SigningKey: folderPriv, PubKey: signingPub, Kind: cipherbox.KindFolder})
	if err != nil {
		s.exit(err)
	}

	fmt.Printf("file added\n  vault: %s\n  sequence: %d\n  file metadata cid: %s\n", vaultName, rec.Sequence, fileMetaCID)
}

// share grants recipientPub access to a published vault.
func (s *State) share(args ...string) {
	fs := flag.NewFlagSet("share", flag.ExitOnError)
	fs.Usage = s.subUsage(fs, "share <folder-id> <recipient-pubkey-hex>")
	if err := fs.Parse(args); err != nil {
		s.exit(err)
	}
	if fs.NArg() != 2 {
		fs.Usage()
	}
	folderID := fs.Arg(0)
	recipientPub, err := crypto.HexDecode(fs.Arg(1))
	if err != nil {
		s.exit(err)
	}

	_, folderPub, err := keyderiv.DeriveFolderKey(s.root, s.cfg.Environment(), folderID)
	if err != nil {
		s.exit(err)
	}
	vaultName, err := derivedName(folderPub)
	if err != nil {
		s.exit(err)
	}
	wrappedFolderKey, err := crypto.WrapKey(s.folderKey(folderID).Bytes(), s.ownerPub)
	if err != nil {
		s.exit(err)
	}

	sh, err := s.shareEngine.Share(context.Background(), s.ownerPriv, s.ownerPub, recipientPub,
		cipherbox.KindFolder, vaultName, vaultName, crypto.HexEncode(wrappedFolderKey))
	if err != nil {
		s.exit(err)
	}

	fmt.Printf("shared\n  share id: %s\n", sh.ShareID)
}

// revoke revokes an outstanding share, performs the resulting lazy key
// rotation, and finishes the rotation contract: the vault's metadata
// is re-encrypted under the new key and a fresh record is published,
// so the revoked recipient's retained key no longer opens anything
// published from here on.
func (s *State) revoke(args ...string) {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	fs.Usage = s.subUsage(fs, "revoke <share-id> <folder-id>")
	if err := fs.Parse(args); err != nil {
		s.exit(err)
	}
	if fs.NArg() != 2 {
		fs.Usage()
	}
	shareID, folderID := fs.Arg(0), fs.Arg(1)
	ctx := context.Background()

	folderPriv, folderPub, err := keyderiv.DeriveFolderKey(s.root, s.cfg.Environment(), folderID)
	if err != nil {
		s.exit(err)
	}
	vaultName, err := derivedName(folderPub)
	if err != nil {
		s.exit(err)
	}

	if err := s.shareEngine.Revoke(ctx, s.ownerPub, shareID); err != nil {
		s.exit(err)
	}

	result, err := s.shareEngine.PerformRotation(ctx, s.ownerPub, vaultName)
	if err != nil {
		s.exit(err)
	}
	if len(result.Completed) == 0 {
		fmt.Println("revoked (no pending rotation)")
		return
	}
	defer result.NewFolderKey.Zero()

	// Re-encrypt the vault's current metadata under the rotated key and
	// republish the record.
	res, err := s.relay.Resolve(ctx, vaultName)
	if err != nil {
		s.exit(err)
	}
	if !res.Found {
		s.exitf("vault %s has no published record", vaultName)
	}
	blob, err := s.store.Get(ctx, res.CID)
	if err != nil {
		s.exit(err)
	}
	var env cipherbox.Envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		s.exit(err)
	}
	meta, err := codec.DecryptFolderMetadata(env, s.folderKey(folderID))
	if err != nil {
		s.exit(err)
	}
	newEnv, err := codec.EncryptFolderMetadata(meta, result.NewFolderKey)
	if err != nil {
		s.exit(err)
	}
	newBlob, err := json.Marshal(newEnv)
	if err != nil {
		s.exit(err)
	}
	newCID, err := s.store.Add(ctx, newBlob)
	if err != nil {
		s.exit(err)
	}
	rec, err := s.pub.Publish(ctx, publish.Request{Name: vaultName, CID: newCID, SigningKey: folderPriv, PubKey: folderPub, Kind: cipherbox.KindFolder})
	if err != nil {
		s.exit(err)
	}

	// The rotated key is random, not derivable from the root, so hand
	// it back to the owner in wrapped form the same way create-vault
	// does.
	wrappedNewKey, err := crypto.WrapKey(result.NewFolderKey.Bytes(), s.ownerPub)
	if err != nil {
		s.exit(err)
	}
	fmt.Printf("revoked and rotated\n  vault: %s\n  sequence: %d\n  new folder key (wrapped hex): %s\n",
		vaultName, rec.Sequence, crypto.HexEncode(wrappedNewKey))
}

// enrollTEE sweeps every enrolled vault whose signing key is still
// sealed under a retired TEE epoch and re-wraps it under the current
// one, exercising the epoch grace-period re-wrap path independently of
// create-vault's automatic enrollment.
func (s *State) enrollTEE(args ...string) {
	fs := flag.NewFlagSet("enroll-tee", flag.ExitOnError)
	fs.Usage = s.subUsage(fs, "enroll-tee")
	if err := fs.Parse(args); err != nil {
		s.exit(err)
	}
	if fs.NArg() != 0 {
		fs.Usage()
	}

	n, err := s.teed.RewrapDueEntries()
	if err != nil {
		s.exit(err)
	}
	fmt.Printf("enroll-tee: %d entr(ies) re-wrapped under the current epoch\n", n)
}

// fetcher composes the relay, object store, and codec into the
// share.Fetcher this process's share.Engine needs.
type fetcher struct {
	relay *inprocess.Relay
	store *inprocess.Store
}

func (f *fetcher) FetchFolder(ctx context.Context, folderName string, folderKey *crypto.Secret) (cipherbox.FolderMetadata, error) {
	const op = "cipherboxctl.fetcher.FetchFolder"
	res, err := f.relay.Resolve(ctx, folderName)
	if err != nil {
		return cipherbox.FolderMetadata{}, errors.E(op, err)
	}
	if !res.Found {
		return cipherbox.FolderMetadata{}, errors.E(op, errors.NameNotFound)
	}
	blob, err := f.store.Get(ctx, res.CID)
	if err != nil {
		return cipherbox.FolderMetadata{}, errors.E(op, err)
	}
	var env cipherbox.Envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return cipherbox.FolderMetadata{}, errors.E(op, err)
	}
	return codec.DecryptFolderMetadata(env, folderKey)
}

func (f *fetcher) FetchFile(ctx context.Context, fileMetaName string, parentFolderKey *crypto.Secret) (cipherbox.FileMetadata, error) {
	const op = "cipherboxctl.fetcher.FetchFile"
	blob, err := f.store.Get(ctx, fileMetaName)
	if err != nil {
		return cipherbox.FileMetadata{}, errors.E(op, err)
	}
	var env cipherbox.Envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return cipherbox.FileMetadata{}, errors.E(op, err)
	}
	return codec.DecryptFileMetadata(env, parentFolderKey)
}

// folderKey returns the AES key folderID's metadata is sealed under,
// derived in its own HKDF domain, independent of the folder's Ed25519
// signing key.
func (s *State) folderKey(folderID string) *crypto.Secret {
	key, err := keyderiv.DeriveFolderSymmetricKey(s.root, s.cfg.Environment(), folderID)
	if err != nil {
		s.exit(err)
	}
	return key
}

// derivedName returns the base36 Name a folder's Ed25519 public key
// derives to, the stable handle every cipherboxctl subcommand resolves
// and publishes against.
func derivedName(folderPub []byte) (string, error) {
	n, err := name.Derive(folderPub)
	if err != nil {
		return "", err
	}
	return n.Base36()
}

func clockNow() time.Time {
	return time.Now()
}
