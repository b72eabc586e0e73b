package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vorteil/boxbackup/pkg/boxserver"
	"github.com/vorteil/boxbackup/pkg/boxstore"
	"github.com/vorteil/boxbackup/pkg/boxstream"
)

var flagDumpDirectory bool

var dumpCmd = &cobra.Command{
	Use:   "dump <object-id>",
	Short: "Print a human-readable breakdown of one stored object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 0, 64)
		if err != nil {
			return fmt.Errorf("boxbackup: invalid object id %q: %w", args[0], err)
		}

		cc, ccfg, err := loadContext()
		if err != nil {
			return err
		}
		srv, _, err := newServer(cc)
		if err != nil {
			return err
		}
		conn := boxserver.NewLocalConn(srv, uint32(ccfg.AccountID))
		ctx := context.Background()

		if flagDumpDirectory {
			d, err := conn.FetchDirectory(ctx, boxstore.ObjectID(id), boxstore.EntryFilter{})
			if err != nil {
				return err
			}
			return boxstore.DumpDirectory(os.Stdout, d)
		}

		raw, err := conn.FetchObject(ctx, boxstore.ObjectID(id))
		if err != nil {
			return err
		}
		f, err := boxstore.ParseFileObject(boxstream.NewMemBuffer(raw), cc)
		if err != nil {
			return err
		}
		return boxstore.DumpFileObject(os.Stdout, f)
	},
}
