package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var housekeepingCmd = &cobra.Command{
	Use:   "housekeeping",
	Short: "Run one housekeeping pass over an account's store",
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

		rootID, err := accountRootID(ccfg)
		if err != nil {
			return err
		}

		report, err := srv.RunHousekeeping(context.Background(), uint32(ccfg.AccountID), rootID, nowFunc())
		if err != nil {
			return err
		}

		fmt.Printf("entries pruned: %d\nchains collapsed: %d\ndirectories removed: %d\nblocks freed: %d\n",
			report.EntriesPruned, report.ChainsCollapsed, report.DirectoriesRemoved, report.BlocksFreed)
		return nil
	},
}
