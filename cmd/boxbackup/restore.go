package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vorteil/boxbackup/pkg/boxclient"
	"github.com/vorteil/boxbackup/pkg/boxserver"
	"github.com/vorteil/boxbackup/pkg/boxstore"
)

var (
	flagResume            bool
	flagIncludeDeleted    bool
	flagIncludeOldVersion bool
	flagRestoreRootID     uint64
	flagRestoreTarget     string
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore a remote directory tree into a local directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagRestoreTarget == "" {
			return fmt.Errorf("boxbackup: --target is required")
		}

		cc, ccfg, err := loadContext()
		if err != nil {
			return err
		}
		srv, _, err := newServer(cc)
		if err != nil {
			return err
		}

		rootID := boxstore.ObjectID(flagRestoreRootID)
		if rootID == 0 {
			rootID, err = accountRootID(ccfg)
			if err != nil {
				return err
			}
		}

		conn := boxserver.NewLocalConn(srv, uint32(ccfg.AccountID))
		opts := boxclient.RestoreOptions{
			Resume:            flagResume,
			IncludeDeleted:    flagIncludeDeleted,
			IncludeOldVersion: flagIncludeOldVersion,
			FlushEveryBytes:   1 << 20,
		}

		code, err := boxclient.Restore(context.Background(), conn, cc, rootID, flagRestoreTarget, opts, log)
		if err != nil {
			return err
		}

		fmt.Println(code.String())
		if code != boxclient.Complete {
			return fmt.Errorf("boxbackup: restore did not complete: %s", code.String())
		}
		return nil
	},
}
