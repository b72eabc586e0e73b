package boxserver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorteil/boxbackup/pkg/boxclient"
)

// TestLocalConnUploadFileEndToEnd drives boxclient.UploadFile against a
// real Server through LocalConn instead of a fake, the integration the
// wire protocol itself would otherwise be the only thing standing
// between these two packages.
func TestLocalConnUploadFileEndToEnd(t *testing.T) {
	s := newTestServer(t)
	rootID, err := s.CreateAccount(1)
	require.NoError(t, err)

	conn := NewLocalConn(s, 1)
	ds := boxclient.NewDiffState(t.TempDir()+"/diffstate.json", time.Hour)
	cfg := &boxclient.Config{DiffBudget: time.Second}

	ctx := context.Background()
	cleartext := filler(32 * 1024)
	now := time.Unix(1700000000, 0).UTC()

	id, plan, err := boxclient.UploadFile(ctx, s.cc, conn, ds, nil, cfg, "/data/a.bin", "a.bin", cleartext, 0, rootID, now)
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.False(t, plan.IsDiff)

	raw, err := s.GetFile(ctx, 1, id)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)

	// A second upload of identical content against the same prior
	// should encode as a diff that borrows every block.
	id2, plan2, err := boxclient.UploadFile(ctx, s.cc, conn, ds, nil, cfg, "/data/a.bin", "a.bin", cleartext, id, rootID, now.Add(time.Minute))
	require.NoError(t, err)
	assert.NotZero(t, id2)
	assert.True(t, plan2.IsDiff)
}
