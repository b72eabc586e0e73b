// Package boxhousekeeping implements the per-account maintenance pass
// (C8): pruning RemoveASAP entries, ageing OldVersion/Deleted entries
// into RemoveASAP under a retention policy, collapsing diff chains so
// pruning a middle entry never strands the one that diffs against it,
// and draining the deleted-directory queue. It sits above
// pkg/boxstore and pkg/boxaccount rather than inside either, since it
// is the one component that has to mutate both a directory tree and
// an account's block counters in the same transaction.
package boxhousekeeping

import (
	"fmt"
	"time"

	"github.com/vorteil/boxbackup/pkg/boxaccount"
	"github.com/vorteil/boxbackup/pkg/boxcrypto"
	"github.com/vorteil/boxbackup/pkg/boxstore"
	"github.com/vorteil/boxbackup/pkg/boxstream"
)

// maxAttrLen bounds any single attribute blob read back off the
// store, guarding against a corrupt or hostile length prefix.
const maxAttrLen = 64 * 1024

// ObjectStore is the storage seam a housekeeping pass runs against:
// whole-object bytes keyed by object-id, the same granularity the
// wire protocol persists objects at. The server's real implementation
// (filesystem, cloud bucket, ...) and a fake for tests both satisfy
// this directly.
type ObjectStore interface {
	GetObject(id boxstore.ObjectID) ([]byte, error)
	PutObject(id boxstore.ObjectID, data []byte) error
	DeleteObject(id boxstore.ObjectID) error
}

// Options configures one Run of a housekeeping pass.
type Options struct {
	// Now is the reference time ages are measured against; tests
	// pass a fixed value, a live server passes time.Now().
	Now time.Time
	// OldVersionRetention is how long an OldVersion entry survives
	// before retention marks it RemoveASAP.
	OldVersionRetention time.Duration
	// DeletedRetention is the equivalent threshold for Deleted
	// entries.
	DeletedRetention time.Duration
}

// Report summarizes one completed pass.
type Report struct {
	EntriesPruned      int
	ChainsCollapsed    int
	DirectoriesRemoved int
	BlocksFreed        int64
}

// Run executes one housekeeping pass over the directory tree rooted
// at rootID, per spec §4.8's ordered steps: RemoveASAP sweep (with
// chain collapse ahead of any prune that would strand a dependent),
// retention-driven RemoveASAP marking, and deleted-directory queue
// drainage. acct's block counters are adjusted in step with every
// object removed or resized. Run does not itself acquire the
// account's advisory lock — callers take that via AccountLock before
// invoking Run (spec §5's writer-slot model).
func Run(ctx *boxcrypto.Context, store ObjectStore, acct *boxaccount.Info, rootID boxstore.ObjectID, opts Options) (*Report, error) {
	report := &Report{}
	if err := sweepDirectory(ctx, store, acct, rootID, opts, report); err != nil {
		return report, err
	}
	if err := drainDeletedDirectories(ctx, store, acct, opts, report); err != nil {
		return report, err
	}
	return report, nil
}

// sweepDirectory applies retention then the RemoveASAP sweep to one
// directory object and recurses into its live sub-directories, post
// order, so a sub-directory's own entries are resolved before its
// parent entry is reconsidered.
func sweepDirectory(ctx *boxcrypto.Context, store ObjectStore, acct *boxaccount.Info, dirID boxstore.ObjectID, opts Options, report *Report) error {
	d, err := loadDirectory(store, dirID)
	if err != nil {
		return err
	}

	applyRetention(d, opts)

	// Snapshot sub-directory ids to recurse into before any
	// mutation below removes entries out from under the range.
	var subdirs []boxstore.ObjectID
	for _, e := range d.Entries {
		if e.IsDir() && !e.Flags.Has(boxstore.FlagRemoveASAP) {
			subdirs = append(subdirs, e.ObjectID)
		}
	}
	for _, sub := range subdirs {
		if err := sweepDirectory(ctx, store, acct, sub, opts, report); err != nil {
			return err
		}
	}

	changed, err := pruneRemoveASAP(ctx, store, acct, d, report)
	if err != nil {
		return err
	}
	if changed {
		return saveDirectory(store, ctx, d)
	}
	return nil
}

// applyRetention marks OldVersion and Deleted entries RemoveASAP once
// they have aged past the configured threshold (spec §4.8 step 2). A
// zero threshold disables ageing for that category.
func applyRetention(d *boxstore.Directory, opts Options) {
	d.Iterate(boxstore.EntryFilter{}, func(e *boxstore.DirectoryEntry) error {
		if e.Flags.Has(boxstore.FlagRemoveASAP) {
			return nil
		}
		if e.Flags.Has(boxstore.FlagOldVersion) && opts.OldVersionRetention > 0 && opts.Now.Sub(e.ModTime) >= opts.OldVersionRetention {
			e.Flags |= boxstore.FlagRemoveASAP
		}
		if e.Flags.Has(boxstore.FlagDeleted) && opts.DeletedRetention > 0 && opts.Now.Sub(e.ModTime) >= opts.DeletedRetention {
			e.Flags |= boxstore.FlagRemoveASAP
		}
		return nil
	})
}

// pruneRemoveASAP removes every RemoveASAP entry from d, collapsing
// the diff chain around each one first (spec §4.8 step 1/3), and
// returns whether d was modified.
func pruneRemoveASAP(ctx *boxcrypto.Context, store ObjectStore, acct *boxaccount.Info, d *boxstore.Directory, report *Report) (bool, error) {
	var toPrune []boxstore.ObjectID
	for _, e := range d.Entries {
		if e.Flags.Has(boxstore.FlagRemoveASAP) {
			toPrune = append(toPrune, e.ObjectID)
		}
	}
	if len(toPrune) == 0 {
		return false, nil
	}

	for _, id := range toPrune {
		e, err := d.FindEntryByID(id)
		if err != nil {
			// Already pruned as another entry's dependent.
			continue
		}
		if err := collapseAndPrune(ctx, store, acct, d, e, report); err != nil {
			return false, err
		}
	}
	d.CheckAndFix()
	return true, nil
}

// collapseAndPrune removes e's object from d. If some other entry's
// stored content diffs against e (dependent.DependsOlder == e), that
// dependent is flattened to a complete object first via CombineFile
// so it survives e's removal, taking over e's former position at the
// head of the chain (spec §4.8 step 3; see DESIGN.md for why the
// "complete object" branch is always taken rather than re-diffing the
// dependent against e's own base).
func collapseAndPrune(ctx *boxcrypto.Context, store ObjectStore, acct *boxaccount.Info, d *boxstore.Directory, e *boxstore.DirectoryEntry, report *Report) error {
	var dependent *boxstore.DirectoryEntry
	for _, other := range d.Entries {
		if other.ObjectID != e.ObjectID && other.DependsOlder == e.ObjectID {
			dependent = other
			break
		}
	}

	oldBlocks := int64(e.SizeInBlocks)
	var netDelta int64

	if dependent != nil {
		flatBuf, err := materializeComplete(ctx, store, d, dependent)
		if err != nil {
			return fmt.Errorf("collapse chain for entry %d: %w", dependent.ObjectID, err)
		}
		flatBytes := flatBuf.Bytes()

		newID, err := acct.AllocateObjectID()
		if err != nil {
			return err
		}
		if err := store.PutObject(newID, flatBytes); err != nil {
			return err
		}
		if err := store.DeleteObject(dependent.ObjectID); err != nil {
			return err
		}

		oldDependentBlocks := int64(dependent.SizeInBlocks)
		newDependentBlocks := boxaccount.BlocksFor(len(flatBytes))
		netDelta += newDependentBlocks - oldDependentBlocks

		for _, other := range d.Entries {
			if other.DependsNewer == e.ObjectID {
				other.DependsNewer = newID
			}
		}

		dependent.ObjectID = newID
		dependent.DependsOlder = 0
		dependent.SizeInBlocks = uint64(newDependentBlocks)

		report.ChainsCollapsed++
	}

	if err := store.DeleteObject(e.ObjectID); err != nil {
		return err
	}
	if err := d.DeleteEntry(e.ObjectID); err != nil {
		return err
	}

	if e.Flags.Has(boxstore.FlagOldVersion) {
		if err := acct.ChangeBlocksInOldFiles(-oldBlocks); err != nil {
			return err
		}
	}
	if e.Flags.Has(boxstore.FlagDeleted) {
		if err := acct.ChangeBlocksInDeletedFiles(-oldBlocks); err != nil {
			return err
		}
	}
	netDelta -= oldBlocks
	if err := acct.ChangeBlocksUsed(netDelta); err != nil {
		return err
	}

	report.BlocksFreed += -netDelta
	report.EntriesPruned++
	return nil
}

// materializeComplete returns e's object fully expanded to a complete
// (all-positive-entry) encoded file, recursively combining up the
// diff chain through DependsOlder ancestors as needed. An entry whose
// DependsOlder is zero is already complete and is returned as is.
func materializeComplete(ctx *boxcrypto.Context, store ObjectStore, d *boxstore.Directory, e *boxstore.DirectoryEntry) (*boxstream.MemBuffer, error) {
	raw, err := store.GetObject(e.ObjectID)
	if err != nil {
		return nil, err
	}
	if e.DependsOlder == 0 {
		return boxstream.NewMemBuffer(raw), nil
	}

	obj, err := boxstore.ParseFileObject(boxstream.NewMemBuffer(raw), ctx)
	if err != nil {
		return nil, err
	}

	baseEntry, err := d.FindEntryByID(e.DependsOlder)
	if err != nil {
		return nil, err
	}
	baseBuf, err := materializeComplete(ctx, store, d, baseEntry)
	if err != nil {
		return nil, err
	}
	baseObj, err := boxstore.ParseFileObject(baseBuf, ctx)
	if err != nil {
		return nil, err
	}

	combined, _, err := boxstore.CombineFile(ctx, obj, baseObj)
	if err != nil {
		return nil, err
	}
	return combined, nil
}

// drainDeletedDirectories processes acct's deleted-directory queue
// (spec §4.8 step 4): a queued directory is removed only once every
// entry it still holds has been pruned and its blocks returned, which
// sweepDirectory's retention-driven ageing eventually achieves.
func drainDeletedDirectories(ctx *boxcrypto.Context, store ObjectStore, acct *boxaccount.Info, opts Options, report *Report) error {
	for _, id := range append([]boxstore.ObjectID(nil), acct.DeletedDirectories...) {
		d, err := loadDirectory(store, id)
		if err != nil {
			return err
		}
		if len(d.Entries) > 0 {
			continue
		}
		if err := store.DeleteObject(id); err != nil {
			return err
		}
		if err := acct.RemoveDeletedDirectory(id); err != nil {
			return err
		}
		if err := acct.ChangeBlocksInDirectories(-1); err != nil {
			return err
		}
		report.DirectoriesRemoved++
	}
	return nil
}

func loadDirectory(store ObjectStore, id boxstore.ObjectID) (*boxstore.Directory, error) {
	raw, err := store.GetObject(id)
	if err != nil {
		return nil, err
	}
	return boxstore.ReadDirectory(boxstream.NewMemBuffer(raw), maxAttrLen)
}

func saveDirectory(store ObjectStore, ctx *boxcrypto.Context, d *boxstore.Directory) error {
	out := boxstream.NewMemBuffer(nil)
	if err := boxstore.WriteDirectory(out, ctx, d, boxstore.EntryFilter{}); err != nil {
		return err
	}
	return store.PutObject(d.Header.ObjectID, out.Bytes())
}
