// Package boxserver hosts the server-side request handlers spec.md §6
// names in the abstract (QueryListDirectory, QueryGetFile, ...):
// per-account object storage over a pluggable recordstore.Store,
// account-info/quota admission (C7), the per-account writer/reader
// slot model (§5), and the housekeeping pass (C8) scheduled against
// it. The wire protocol and auth handshake that would carry these
// calls to a remote client are an explicit non-goal; Server exposes
// them as plain Go methods so a transport layer (or, for tests and
// same-process callers, LocalConn) can sit directly on top.
package boxserver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/vorteil/boxbackup/pkg/boxaccount"
	"github.com/vorteil/boxbackup/pkg/boxcrypto"
	"github.com/vorteil/boxbackup/pkg/boxhousekeeping"
	"github.com/vorteil/boxbackup/pkg/boxserver/recordstore"
	"github.com/vorteil/boxbackup/pkg/boxstore"
	"github.com/vorteil/boxbackup/pkg/boxstream"
)

// maxAttrLen bounds any attribute blob read back off the store,
// matching boxhousekeeping's guard against a corrupt length prefix.
const maxAttrLen = 64 * 1024

// accountState is one account's live, in-memory handle: its quota
// record and the object store scoped to it. Account-info stays on
// local disk via boxaccount's own Load/Save file API (it already
// implements the required write-to-temp-then-rename discipline and
// needs fast, strongly-consistent access for every admission check and
// lock decision); only bulk object data is routed through the
// pluggable recordstore.Store, which may be a cloud bucket.
type accountState struct {
	info     *boxaccount.Info
	infoPath string
	store    *AccountStore
}

// Server is the in-process server-side object: one backend record
// store shared by every hosted account, one AccountLock per account
// (§5's writer/reader slot), and a lazily populated account-info
// cache.
type Server struct {
	cfg     *Config
	backend recordstore.Store
	cc      *boxcrypto.Context
	locks   *LockRegistry

	accounts map[uint32]*accountState
}

// NewServer returns a Server persisting objects in backend and account
// info under cfg.StoreRoot, using cc for every on-wire encrypt/decrypt
// operation.
func NewServer(cfg *Config, backend recordstore.Store, cc *boxcrypto.Context) *Server {
	return &Server{
		cfg:      cfg,
		backend:  backend,
		cc:       cc,
		locks:    NewLockRegistry(),
		accounts: make(map[uint32]*accountState),
	}
}

func (s *Server) infoPath(accountID uint32) string {
	return filepath.Join(s.cfg.StoreRoot, "accounts", strconv.FormatUint(uint64(accountID), 10), "info")
}

// account returns the live handle for accountID, loading it from disk
// on first use.
func (s *Server) account(accountID uint32) (*accountState, error) {
	if st, ok := s.accounts[accountID]; ok {
		return st, nil
	}
	path := s.infoPath(accountID)
	info, err := boxaccount.Load(path, false)
	if err != nil {
		return nil, fmt.Errorf("boxserver: loading account %d: %w", accountID, err)
	}
	st := &accountState{info: info, infoPath: path, store: NewAccountStore(s.backend, accountID)}
	s.accounts[accountID] = st
	return st, nil
}

// CreateAccount provisions a brand new account with the server's
// configured default quota, allocating and storing an empty root
// directory object and returning its id (the caller configures this
// as the corresponding boxclient.BackupRoot.RemoteDirID).
func (s *Server) CreateAccount(accountID uint32) (boxstore.ObjectID, error) {
	path := s.infoPath(accountID)
	if _, err := os.Stat(path); err == nil {
		return 0, fmt.Errorf("boxserver: account %d already exists", accountID)
	}

	info := boxaccount.NewInfo(accountID, s.cfg.DefaultSoftLimit, s.cfg.DefaultHardLimit)
	rootID, err := info.AllocateObjectID()
	if err != nil {
		return 0, err
	}

	store := NewAccountStore(s.backend, accountID)
	root := boxstore.NewDirectory(rootID, 0)
	buf := boxstream.NewMemBuffer(nil)
	if err := boxstore.WriteDirectory(buf, s.cc, root, boxstore.EntryFilter{}); err != nil {
		return 0, err
	}
	if err := store.PutObject(rootID, buf.Bytes()); err != nil {
		return 0, err
	}
	if err := info.ChangeBlocksInDirectories(1); err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return 0, err
	}
	if err := info.Save(path); err != nil {
		return 0, err
	}

	s.accounts[accountID] = &accountState{info: info, infoPath: path, store: store}
	return rootID, nil
}

// ListDirectory implements QueryListDirectory: loads the directory
// object, applies filter server-side so excluded entries never cross
// the wire (spec §4.6), under the account's reader slot.
func (s *Server) ListDirectory(ctx context.Context, accountID uint32, dirID boxstore.ObjectID, filter boxstore.EntryFilter) (*boxstore.Directory, error) {
	acct, err := s.account(accountID)
	if err != nil {
		return nil, err
	}
	lock := s.locks.For(accountID)
	if err := lock.AcquireReader(s.cfg.LockTimeout); err != nil {
		return nil, err
	}
	defer lock.ReleaseReader()

	raw, err := acct.store.GetObject(dirID)
	if err != nil {
		return nil, err
	}
	full, err := boxstore.ReadDirectory(boxstream.NewMemBuffer(raw), maxAttrLen)
	if err != nil {
		return nil, err
	}

	filtered := &boxstore.Directory{Header: full.Header, Attrs: full.Attrs}
	if err := full.Iterate(filter, func(e *boxstore.DirectoryEntry) error {
		filtered.AddEntry(e)
		return nil
	}); err != nil {
		return nil, err
	}
	return filtered, nil
}

// GetFile implements QueryGetFile: the complete raw bytes of object
// id, under the account's reader slot.
func (s *Server) GetFile(ctx context.Context, accountID uint32, id boxstore.ObjectID) ([]byte, error) {
	acct, err := s.account(accountID)
	if err != nil {
		return nil, err
	}
	lock := s.locks.For(accountID)
	if err := lock.AcquireReader(s.cfg.LockTimeout); err != nil {
		return nil, err
	}
	defer lock.ReleaseReader()

	return acct.store.GetObject(id)
}

// GetTrailer answers C9 step 2's cheap prior-object request: only the
// decoded block-index trailer, not the payload bytes.
func (s *Server) GetTrailer(ctx context.Context, accountID uint32, id boxstore.ObjectID) (*boxstore.Trailer, error) {
	raw, err := s.GetFile(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	obj, err := boxstore.ParseFileObject(boxstream.NewMemBuffer(raw), s.cc)
	if err != nil {
		return nil, err
	}
	return obj.Trailer, nil
}

// FetchBlock resolves a single cleartext block of object id, following
// a borrowed-block chain of any depth via recursive calls back into
// FetchBlock so the client never needs to flatten the chain itself
// (spec §4.5.4, the fetchBlock accessor FileObject.Decode expects).
func (s *Server) FetchBlock(ctx context.Context, accountID uint32, id boxstore.ObjectID, blockOrdinal int64) ([]byte, error) {
	raw, err := s.GetFile(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	obj, err := boxstore.ParseFileObject(boxstream.NewMemBuffer(raw), s.cc)
	if err != nil {
		return nil, err
	}
	return obj.DecodeBlock(s.cc, blockOrdinal, func(other boxstore.ObjectID, ord int64) ([]byte, error) {
		return s.FetchBlock(ctx, accountID, other, ord)
	})
}

// StoreObject implements the upload half of the client's StoreObject
// call: admission-checks the new object's size against the account's
// hard limit (spec §4.7 — rejected before any bytes are durably
// accepted), allocates its id, and persists it, all under the
// account's writer slot.
func (s *Server) StoreObject(ctx context.Context, accountID uint32, containerID boxstore.ObjectID, data []byte) (boxstore.ObjectID, error) {
	acct, err := s.account(accountID)
	if err != nil {
		return 0, err
	}
	lock := s.locks.For(accountID)
	if err := lock.AcquireWriter(s.cfg.LockTimeout); err != nil {
		return 0, err
	}
	defer lock.ReleaseWriter()

	blocks := boxaccount.BlocksFor(len(data))
	if _, err := acct.info.CheckAdmission(blocks); err != nil {
		return 0, err
	}

	id, err := acct.info.AllocateObjectID()
	if err != nil {
		return 0, err
	}
	if err := acct.store.PutObject(id, data); err != nil {
		return 0, err
	}
	if err := acct.info.ChangeBlocksUsed(blocks); err != nil {
		return 0, err
	}
	if err := acct.info.Save(acct.infoPath); err != nil {
		return 0, err
	}
	return id, nil
}

// StoreDirectory persists an updated directory object's full entry
// set (no server-side filter: directory rewrites always carry every
// entry, filtering only ever happens on the read path), under the
// account's writer slot.
func (s *Server) StoreDirectory(ctx context.Context, accountID uint32, d *boxstore.Directory) error {
	acct, err := s.account(accountID)
	if err != nil {
		return err
	}
	lock := s.locks.For(accountID)
	if err := lock.AcquireWriter(s.cfg.LockTimeout); err != nil {
		return err
	}
	defer lock.ReleaseWriter()

	buf := boxstream.NewMemBuffer(nil)
	if err := boxstore.WriteDirectory(buf, s.cc, d, boxstore.EntryFilter{}); err != nil {
		return err
	}
	return acct.store.PutObject(d.Header.ObjectID, buf.Bytes())
}

// MakeDirectory allocates and stores a new, empty directory object as
// a child of containerID, the server side of a client's "create
// subdirectory" request.
func (s *Server) MakeDirectory(ctx context.Context, accountID uint32, containerID boxstore.ObjectID) (boxstore.ObjectID, error) {
	acct, err := s.account(accountID)
	if err != nil {
		return 0, err
	}
	lock := s.locks.For(accountID)
	if err := lock.AcquireWriter(s.cfg.LockTimeout); err != nil {
		return 0, err
	}
	defer lock.ReleaseWriter()

	id, err := acct.info.AllocateObjectID()
	if err != nil {
		return 0, err
	}
	d := boxstore.NewDirectory(id, containerID)
	buf := boxstream.NewMemBuffer(nil)
	if err := boxstore.WriteDirectory(buf, s.cc, d, boxstore.EntryFilter{}); err != nil {
		return 0, err
	}
	if err := acct.store.PutObject(id, buf.Bytes()); err != nil {
		return 0, err
	}
	if err := acct.info.ChangeBlocksInDirectories(1); err != nil {
		return 0, err
	}
	if err := acct.info.Save(acct.infoPath); err != nil {
		return 0, err
	}
	return id, nil
}

// DeleteDirectory queues id on the account's deleted-directory list;
// housekeeping physically removes it once every contained entry has
// been pruned (spec §4.8 step 4).
func (s *Server) DeleteDirectory(ctx context.Context, accountID uint32, id boxstore.ObjectID) error {
	acct, err := s.account(accountID)
	if err != nil {
		return err
	}
	lock := s.locks.For(accountID)
	if err := lock.AcquireWriter(s.cfg.LockTimeout); err != nil {
		return err
	}
	defer lock.ReleaseWriter()

	if err := acct.info.AddDeletedDirectory(id); err != nil {
		return err
	}
	return acct.info.Save(acct.infoPath)
}

// UndeleteDirectory reverses a pending DeleteDirectory, provided
// housekeeping has not already drained the queue and removed the
// object.
func (s *Server) UndeleteDirectory(ctx context.Context, accountID uint32, id boxstore.ObjectID) error {
	acct, err := s.account(accountID)
	if err != nil {
		return err
	}
	lock := s.locks.For(accountID)
	if err := lock.AcquireWriter(s.cfg.LockTimeout); err != nil {
		return err
	}
	defer lock.ReleaseWriter()

	if err := acct.info.RemoveDeletedDirectory(id); err != nil {
		return err
	}
	return acct.info.Save(acct.infoPath)
}

// DeleteFile flags the directory entry matching name's raw wire bytes
// Deleted, the non-physical-removal half of spec §4.8's lifecycle
// (housekeeping retires it later under retention).
func (s *Server) DeleteFile(ctx context.Context, accountID uint32, dirID boxstore.ObjectID, name *boxstore.EncodedFilename) error {
	acct, err := s.account(accountID)
	if err != nil {
		return err
	}
	lock := s.locks.For(accountID)
	if err := lock.AcquireWriter(s.cfg.LockTimeout); err != nil {
		return err
	}
	defer lock.ReleaseWriter()

	raw, err := acct.store.GetObject(dirID)
	if err != nil {
		return err
	}
	d, err := boxstore.ReadDirectory(boxstream.NewMemBuffer(raw), maxAttrLen)
	if err != nil {
		return err
	}

	found := false
	for _, e := range d.Entries {
		if e.Name.Encoding == name.Encoding && string(e.Name.Payload) == string(name.Payload) {
			e.Flags |= boxstore.FlagDeleted
			found = true
			break
		}
	}
	if !found {
		return boxstore.ErrCouldNotFindEntry
	}

	buf := boxstream.NewMemBuffer(nil)
	if err := boxstore.WriteDirectory(buf, s.cc, d, boxstore.EntryFilter{}); err != nil {
		return err
	}
	return acct.store.PutObject(dirID, buf.Bytes())
}

// SetClientStoreMarker records the opaque cookie a client uses to
// detect a stale local view of its store (spec §4.7), persisting it
// immediately so a crashed client can compare on its next connect.
func (s *Server) SetClientStoreMarker(accountID uint32, marker uint64) error {
	acct, err := s.account(accountID)
	if err != nil {
		return err
	}
	lock := s.locks.For(accountID)
	if err := lock.AcquireWriter(s.cfg.LockTimeout); err != nil {
		return err
	}
	defer lock.ReleaseWriter()

	if err := acct.info.SetClientStoreMarker(marker); err != nil {
		return err
	}
	return acct.info.Save(acct.infoPath)
}

// AccountClientStoreMarker returns accountID's currently recorded
// client store marker, taking the reader slot.
func (s *Server) AccountClientStoreMarker(accountID uint32) (uint64, error) {
	acct, err := s.account(accountID)
	if err != nil {
		return 0, err
	}
	lock := s.locks.For(accountID)
	if err := lock.AcquireReader(s.cfg.LockTimeout); err != nil {
		return 0, err
	}
	defer lock.ReleaseReader()

	return acct.info.ClientStoreMarker, nil
}

// RunHousekeeping executes one housekeeping pass (C8) over accountID's
// tree rooted at rootID, under the account's writer slot (spec §5:
// housekeeping takes the writer slot exactly like a mutating client
// request).
func (s *Server) RunHousekeeping(ctx context.Context, accountID uint32, rootID boxstore.ObjectID, now time.Time) (*boxhousekeeping.Report, error) {
	acct, err := s.account(accountID)
	if err != nil {
		return nil, err
	}
	lock := s.locks.For(accountID)
	if err := lock.AcquireWriter(s.cfg.LockTimeout); err != nil {
		return nil, err
	}
	defer lock.ReleaseWriter()

	report, err := boxhousekeeping.Run(s.cc, acct.store, acct.info, rootID, boxhousekeeping.Options{
		Now:                 now,
		OldVersionRetention: s.cfg.OldVersionRetention,
		DeletedRetention:    s.cfg.DeletedRetention,
	})
	if err != nil {
		return report, err
	}
	return report, acct.info.Save(acct.infoPath)
}
