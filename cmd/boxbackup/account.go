package main

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	flagAccountID uint32
	flagSoftLimit int64
	flagHardLimit int64
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage accounts on a boxbackup server",
}

var accountCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Provision a new account and print its root directory id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, _, err := loadContext()
		if err != nil {
			return err
		}
		srv, scfg, err := newServer(cc)
		if err != nil {
			return err
		}
		if flagSoftLimit > 0 {
			scfg.DefaultSoftLimit = flagSoftLimit
		}
		if flagHardLimit > 0 {
			scfg.DefaultHardLimit = flagHardLimit
		}

		rootID, err := srv.CreateAccount(flagAccountID)
		if err != nil {
			return err
		}

		// A fresh session marker lets a client detect, on its very
		// first connect, whether this is the account it last talked
		// to; a random cookie is as good as any since there is no
		// prior session to compare against yet.
		id := uuid.New()
		marker := binary.BigEndian.Uint64(id[:8])
		if err := srv.SetClientStoreMarker(flagAccountID, marker); err != nil {
			return err
		}

		fmt.Printf("account %d created, root directory id %d\n", flagAccountID, rootID)
		log.Infof("boxbackup: account %d store marker set to %d", flagAccountID, marker)
		return nil
	},
}
