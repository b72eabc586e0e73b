package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/vorteil/boxbackup/pkg/boxclient"
	"github.com/vorteil/boxbackup/pkg/boxcrypto"
	"github.com/vorteil/boxbackup/pkg/boxserver"
	"github.com/vorteil/boxbackup/pkg/boxstore"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Mirror every configured local root into its remote directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, ccfg, err := loadContext()
		if err != nil {
			return err
		}
		srv, _, err := newServer(cc)
		if err != nil {
			return err
		}
		if len(ccfg.Roots) == 0 {
			return fmt.Errorf("boxbackup: no backup roots configured")
		}

		accountID := uint32(ccfg.AccountID)
		conn := boxserver.NewLocalConn(srv, accountID)
		ds := boxclient.NewDiffState(ccfg.IndexCachePath, ccfg.IndexCacheTTL)

		w := &backupWalk{
			ctx:       context.Background(),
			accountID: accountID,
			srv:       srv,
			conn:      conn,
			cc:        cc,
			ds:        ds,
			cfg:       &boxclient.Config{DiffBudget: ccfg.DiffBudget, MinMatchRatio: ccfg.MinMatchRatio},
		}
		for _, root := range ccfg.Roots {
			if err := w.backupDir(root.LocalPath, boxstore.ObjectID(root.RemoteDirID), root.Exclude); err != nil {
				return fmt.Errorf("boxbackup: backing up %s: %w", root.LocalPath, err)
			}
		}
		return ds.Save()
	},
}

// backupWalk mirrors one local directory tree onto a remote directory
// id, the upload-side counterpart to restoreWalk in
// pkg/boxclient/restore.go: pre-order on the local tree (a
// subdirectory's remote object is allocated before it is recursed
// into), matching a file against its prior upload by decrypted name so
// boxclient.UploadFile gets a real priorID to diff against.
type backupWalk struct {
	ctx       context.Context
	accountID uint32
	srv       *boxserver.Server
	conn      boxclient.Conn
	cc        *boxcrypto.Context
	ds        *boxclient.DiffState
	cfg       *boxclient.Config
}

func (w *backupWalk) backupDir(local string, remoteDirID boxstore.ObjectID, exclude []string) error {
	entries, err := os.ReadDir(local)
	if err != nil {
		return err
	}

	d, err := w.conn.FetchDirectory(w.ctx, remoteDirID, boxstore.EntryFilter{})
	if err != nil {
		return err
	}

	changed := false
	for _, entry := range entries {
		name := entry.Name()
		if matchesAny(name, exclude) {
			continue
		}
		path := filepath.Join(local, name)

		existing, ferr := d.FindMatchingClearName(w.cc, boxstore.EntryFilter{}, name)
		if ferr != nil && !errors.Is(ferr, boxstore.ErrCouldNotFindEntry) {
			return ferr
		}

		if entry.IsDir() {
			childID, addErr := w.ensureSubdirectory(d, existing, name, remoteDirID)
			if addErr != nil {
				return addErr
			}
			if existing == nil {
				changed = true
			}
			if err := w.backupDir(path, childID, exclude); err != nil {
				return err
			}
			continue
		}

		added, uerr := w.uploadFile(d, existing, path, name, remoteDirID)
		if uerr != nil {
			return fmt.Errorf("uploading %s: %w", path, uerr)
		}
		changed = changed || added
	}

	if changed {
		return w.conn.StoreDirectory(w.ctx, d)
	}
	return nil
}

// ensureSubdirectory returns the remote object id backing local
// subdirectory name under d, allocating and linking a fresh one via
// Server.MakeDirectory when no prior entry matches it. MakeDirectory
// is a server-side allocation the upload/diff engine in
// pkg/boxclient never needs (it only streams already-identified
// objects), so it is called directly on srv rather than through Conn.
func (w *backupWalk) ensureSubdirectory(d *boxstore.Directory, existing *boxstore.DirectoryEntry, name string, containerID boxstore.ObjectID) (boxstore.ObjectID, error) {
	if existing != nil && existing.IsDir() {
		return existing.ObjectID, nil
	}

	childID, err := w.srv.MakeDirectory(w.ctx, w.accountID, containerID)
	if err != nil {
		return 0, err
	}
	encName, err := boxstore.EncryptFilename(w.cc, name)
	if err != nil {
		return 0, err
	}
	d.AddEntry(&boxstore.DirectoryEntry{
		ObjectID: childID,
		Flags:    boxstore.FlagDir,
		ModTime:  time.Now(),
		Name:     encName,
		Attrs:    &boxstore.Attributes{},
	})
	return childID, nil
}

// uploadFile encodes path's current contents (fresh or diffed against
// existing's prior object, per C9) and links the result into d,
// flipping any superseded entry to OldVersion rather than replacing it
// in place (spec §4.6: a name collision is legal only among OldVersion
// entries). Reports whether d gained or changed an entry, so the
// caller knows whether the directory object needs to be re-stored.
func (w *backupWalk) uploadFile(d *boxstore.Directory, existing *boxstore.DirectoryEntry, path, name string, containerID boxstore.ObjectID) (bool, error) {
	cleartext, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}

	var priorID boxstore.ObjectID
	if existing != nil && existing.IsFile() {
		priorID = existing.ObjectID
	}

	now := time.Now()
	id, _, err := boxclient.UploadFile(w.ctx, w.cc, w.conn, w.ds, log, w.cfg, path, name, cleartext, priorID, containerID, now)
	if err != nil {
		return false, err
	}
	if existing != nil && existing.ObjectID == id {
		return false, nil
	}

	attrsClear, err := boxclient.CaptureAttributes(path)
	if err != nil {
		return false, err
	}
	attrsCipher, err := w.cc.Encrypt("attribute", attrsClear)
	if err != nil {
		return false, err
	}
	encName, err := boxstore.EncryptFilename(w.cc, name)
	if err != nil {
		return false, err
	}

	if existing != nil {
		existing.Flags |= boxstore.FlagOldVersion
	}
	d.AddEntry(&boxstore.DirectoryEntry{
		ObjectID: id,
		Flags:    boxstore.FlagFile,
		ModTime:  now,
		Name:     encName,
		Attrs:    boxstore.NewAttributes(attrsCipher),
	})
	return true, nil
}

func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}
