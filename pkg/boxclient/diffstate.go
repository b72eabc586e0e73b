package boxclient

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/vorteil/boxbackup/pkg/boxcrypto"
	"github.com/vorteil/boxbackup/pkg/boxstore"
)

// cachedTrailer is the on-disk representation of one remote block
// index cache entry (spec §4.9 step 1).
type cachedTrailer struct {
	ObjectID  boxstore.ObjectID          `json:"object_id"`
	FetchedAt time.Time                  `json:"fetched_at"`
	Header    boxstore.IndexHeader       `json:"header"`
	Entries   []boxstore.BlockIndexEntry `json:"entries"`
}

func (c cachedTrailer) trailer() *boxstore.Trailer {
	return &boxstore.Trailer{Header: c.Header, Entries: c.Entries}
}

// DiffState is the client's remote block index cache: for each
// previously-backed-up local path it remembers the prior object's id
// and trailer, so a subsequent backup of the same path can decide
// fresh-vs-diff (C9) without a round trip to fetch the prior object
// unless the cached entry has gone stale.
//
// Grounded on pkg/vkern's RemoteManager: an in-memory map guarded by a
// RWMutex, backed by a single JSON file on disk, refreshed against a
// staleness threshold rather than on every access.
type DiffState struct {
	mu    sync.RWMutex
	path  string
	ttl   time.Duration
	byKey map[uint64]cachedTrailer
}

// NewDiffState loads the cache file at path if present; a missing or
// unreadable file starts empty rather than failing, since the cache is
// an optimization, not a correctness requirement.
func NewDiffState(path string, ttl time.Duration) *DiffState {
	ds := &DiffState{path: path, ttl: ttl, byKey: make(map[uint64]cachedTrailer)}
	raw, err := os.ReadFile(path)
	if err != nil {
		return ds
	}
	var entries map[string]cachedTrailer
	if err := json.Unmarshal(raw, &entries); err != nil {
		return ds
	}
	for k, v := range entries {
		key, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			continue
		}
		ds.byKey[key] = v
	}
	return ds
}

// Key derives the cache key for a local path: a keyed digest over the
// path string, stable across runs, reusing the same primitive the
// directory entry attribute hash is built from.
func Key(ctx *boxcrypto.Context, localPath string) uint64 {
	return ctx.KeyedDigest(localPath, nil)
}

// Lookup returns the cached trailer for key if present and not older
// than the configured TTL.
func (ds *DiffState) Lookup(key uint64, now time.Time) (boxstore.ObjectID, *boxstore.Trailer, bool) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	e, ok := ds.byKey[key]
	if !ok {
		return 0, nil, false
	}
	if ds.ttl > 0 && now.Sub(e.FetchedAt) > ds.ttl {
		return 0, nil, false
	}
	return e.ObjectID, e.trailer(), true
}

// Record stores (or refreshes) the trailer last seen for key.
func (ds *DiffState) Record(key uint64, id boxstore.ObjectID, t *boxstore.Trailer, now time.Time) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.byKey[key] = cachedTrailer{ObjectID: id, FetchedAt: now, Header: t.Header, Entries: t.Entries}
}

// Forget drops a key, used when the remote object it refers to has
// been deleted or superseded outside of a normal backup run.
func (ds *DiffState) Forget(key uint64) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	delete(ds.byKey, key)
}

// Save persists the cache to its configured path, writing to a
// temporary file and renaming over the target so a crash mid-write
// never leaves a truncated cache file (the same atomic-replace
// discipline boxaccount.Info.Save uses for the account-info record).
func (ds *DiffState) Save() error {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	if ds.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(ds.path), 0o700); err != nil {
		return err
	}

	out := make(map[string]cachedTrailer, len(ds.byKey))
	for k, v := range ds.byKey {
		out[strconv.FormatUint(k, 10)] = v
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return err
	}

	tmp := ds.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, ds.path)
}

// resolvePrior implements C9 steps 1-2: consult the cache, and only if
// it is missing or stale fetch the prior object's trailer fresh over
// conn. Returns a nil trailer and nil error when there is no prior
// object at all (priorID 0, first backup of this path).
func resolvePrior(ctx context.Context, conn Conn, ds *DiffState, key uint64, priorID boxstore.ObjectID, now time.Time) (*boxstore.Trailer, error) {
	if priorID == 0 {
		return nil, nil
	}
	if _, cached, ok := ds.Lookup(key, now); ok {
		return cached, nil
	}
	t, err := conn.FetchTrailer(ctx, priorID)
	if err != nil {
		return nil, fmt.Errorf("boxclient: fetching prior trailer for object %d: %w", priorID, err)
	}
	ds.Record(key, priorID, t, now)
	return t, nil
}

// matchRatio returns the fraction of entries in t that borrow from
// another object, the signal C9 step 3 thresholds against.
func matchRatio(t *boxstore.Trailer) float64 {
	if len(t.Entries) == 0 {
		return 0
	}
	borrowed := 0
	for _, e := range t.Entries {
		if !e.IsPresent() {
			borrowed++
		}
	}
	return float64(borrowed) / float64(len(t.Entries))
}
