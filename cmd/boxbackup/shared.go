package main

import (
	"fmt"
	"os"
	"time"

	"github.com/vorteil/boxbackup/pkg/boxclient"
	"github.com/vorteil/boxbackup/pkg/boxcrypto"
	"github.com/vorteil/boxbackup/pkg/boxserver"
	"github.com/vorteil/boxbackup/pkg/boxserver/recordstore"
	"github.com/vorteil/boxbackup/pkg/boxstore"
)

// loadContext reads a client config and turns its configured
// key-material file into a *boxcrypto.Context. Every subcommand that
// touches ciphertext (backup, restore, account creation against a
// local server) shares this one loader rather than each re-deriving
// it, matching cmd/vorteil's single config-to-context path per
// command.
func loadContext() (*boxcrypto.Context, *boxclient.Config, error) {
	ccfg, err := boxclient.LoadConfig(flagClientConfig)
	if err != nil {
		return nil, nil, err
	}
	if ccfg.KeyMaterialPath == "" {
		return nil, nil, fmt.Errorf("boxbackup: no key-material path configured")
	}
	raw, err := os.ReadFile(ccfg.KeyMaterialPath)
	if err != nil {
		return nil, nil, fmt.Errorf("boxbackup: reading key material: %w", err)
	}
	cc, err := boxcrypto.LoadKeyMaterial(raw)
	if err != nil {
		return nil, nil, err
	}
	return cc, ccfg, nil
}

// newServer wires a boxserver.Server over the local-filesystem
// recordstore against the configured server config. This CLI runs
// client and server in a single process (the wire protocol is an
// explicit non-goal), so every command drives the same Server
// directly through a boxserver.LocalConn rather than dialling out.
func newServer(cc *boxcrypto.Context) (*boxserver.Server, *boxserver.Config, error) {
	scfg, err := boxserver.LoadConfig(flagServerConfig)
	if err != nil {
		return nil, nil, err
	}
	backend, err := recordstore.NewLocal(scfg.StoreRoot)
	if err != nil {
		return nil, nil, err
	}
	return boxserver.NewServer(scfg, backend, cc), scfg, nil
}

// accountRootID returns the remote directory id a housekeeping pass
// or restore should operate against, when the caller hasn't named one
// explicitly: the first configured backup root's RemoteDirID.
func accountRootID(ccfg *boxclient.Config) (boxstore.ObjectID, error) {
	if len(ccfg.Roots) == 0 {
		return 0, fmt.Errorf("boxbackup: no backup roots configured")
	}
	return boxstore.ObjectID(ccfg.Roots[0].RemoteDirID), nil
}

// nowFunc is the single indirection point a housekeeping run reads
// wall-clock time through, so tests exercising this package directly
// could substitute a fixed instant the same way boxhousekeeping's own
// tests do.
var nowFunc = time.Now
