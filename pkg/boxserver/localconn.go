package boxserver

import (
	"context"

	"github.com/vorteil/boxbackup/pkg/boxclient"
	"github.com/vorteil/boxbackup/pkg/boxstore"
)

// LocalConn adapts a Server to boxclient.Conn for one account, calling
// directly into Server's methods rather than crossing a socket. The
// wire protocol and auth handshake a real Conn would need are an
// explicit non-goal, so this is the only Conn implementation this
// module ships. The boxbackup CLI uses it to drive a local Server,
// and the tests use it to run boxclient's upload/restore engine
// end-to-end against a real Server, the same role boxclient_test.go's
// fakeConn plays against plain maps.
type LocalConn struct {
	server    *Server
	accountID uint32
}

// NewLocalConn returns a Conn that drives server on behalf of
// accountID.
func NewLocalConn(server *Server, accountID uint32) *LocalConn {
	return &LocalConn{server: server, accountID: accountID}
}

var _ boxclient.Conn = (*LocalConn)(nil)

// FetchDirectory implements boxclient.Conn.
func (c *LocalConn) FetchDirectory(ctx context.Context, id boxstore.ObjectID, filter boxstore.EntryFilter) (*boxstore.Directory, error) {
	return c.server.ListDirectory(ctx, c.accountID, id, filter)
}

// FetchTrailer implements boxclient.Conn.
func (c *LocalConn) FetchTrailer(ctx context.Context, id boxstore.ObjectID) (*boxstore.Trailer, error) {
	return c.server.GetTrailer(ctx, c.accountID, id)
}

// FetchObject implements boxclient.Conn.
func (c *LocalConn) FetchObject(ctx context.Context, id boxstore.ObjectID) ([]byte, error) {
	return c.server.GetFile(ctx, c.accountID, id)
}

// FetchBlock implements boxclient.Conn.
func (c *LocalConn) FetchBlock(ctx context.Context, id boxstore.ObjectID, blockOrdinal int64) ([]byte, error) {
	return c.server.FetchBlock(ctx, c.accountID, id, blockOrdinal)
}

// StoreObject implements boxclient.Conn.
func (c *LocalConn) StoreObject(ctx context.Context, containerID boxstore.ObjectID, data []byte) (boxstore.ObjectID, error) {
	return c.server.StoreObject(ctx, c.accountID, containerID, data)
}

// StoreDirectory implements boxclient.Conn.
func (c *LocalConn) StoreDirectory(ctx context.Context, d *boxstore.Directory) error {
	return c.server.StoreDirectory(ctx, c.accountID, d)
}

// DeleteDirectory implements boxclient.Conn.
func (c *LocalConn) DeleteDirectory(ctx context.Context, id boxstore.ObjectID) error {
	return c.server.DeleteDirectory(ctx, c.accountID, id)
}

// DeleteFile implements boxclient.Conn.
func (c *LocalConn) DeleteFile(ctx context.Context, dirID boxstore.ObjectID, name *boxstore.EncodedFilename) error {
	return c.server.DeleteFile(ctx, c.accountID, dirID, name)
}
