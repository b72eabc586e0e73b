package boxclient

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vorteil/boxbackup/pkg/boxcrypto"
	"github.com/vorteil/boxbackup/pkg/boxstore"
	"github.com/vorteil/boxbackup/pkg/boxstream"
)

func testCtx(t *testing.T) *boxcrypto.Context {
	t.Helper()
	raw := make([]byte, boxcrypto.KeyMaterialLength)
	for i := range raw {
		raw[i] = byte(i * 7)
	}
	ctx, err := boxcrypto.LoadKeyMaterial(raw)
	require.NoError(t, err)
	return ctx
}

// fakeConn is an in-process Conn backed by plain maps, standing in for
// a real socket connection the same way boxhousekeeping's fakeStore
// stands in for a real record store.
type fakeConn struct {
	cc          *boxcrypto.Context
	objects     map[boxstore.ObjectID][]byte
	directories map[boxstore.ObjectID]*boxstore.Directory
	nextID      uint64

	deletedDirs  []boxstore.ObjectID
	deletedFiles []struct {
		dirID boxstore.ObjectID
		name  *boxstore.EncodedFilename
	}
}

func newFakeConn(cc *boxcrypto.Context) *fakeConn {
	return &fakeConn{
		cc:          cc,
		objects:     make(map[boxstore.ObjectID][]byte),
		directories: make(map[boxstore.ObjectID]*boxstore.Directory),
	}
}

func (c *fakeConn) parseObject(id boxstore.ObjectID) (*boxstore.FileObject, error) {
	raw, ok := c.objects[id]
	if !ok {
		return nil, boxstore.ErrCouldNotFindEntry
	}
	return boxstore.ParseFileObject(boxstream.NewMemBuffer(raw), c.cc)
}

func (c *fakeConn) FetchDirectory(_ context.Context, id boxstore.ObjectID, filter boxstore.EntryFilter) (*boxstore.Directory, error) {
	d, ok := c.directories[id]
	if !ok {
		return nil, boxstore.ErrCouldNotFindEntry
	}
	out := &boxstore.Directory{Header: d.Header, Attrs: d.Attrs}
	_ = d.Iterate(filter, func(e *boxstore.DirectoryEntry) error {
		out.AddEntry(e)
		return nil
	})
	return out, nil
}

func (c *fakeConn) FetchTrailer(_ context.Context, id boxstore.ObjectID) (*boxstore.Trailer, error) {
	obj, err := c.parseObject(id)
	if err != nil {
		return nil, err
	}
	return obj.Trailer, nil
}

func (c *fakeConn) FetchObject(_ context.Context, id boxstore.ObjectID) ([]byte, error) {
	raw, ok := c.objects[id]
	if !ok {
		return nil, boxstore.ErrCouldNotFindEntry
	}
	return append([]byte(nil), raw...), nil
}

// blockClearLen returns the cleartext length of block ordinal in
// object id, resolving through a borrow chain if necessary — mirrors
// what a real server does to answer FetchBlock without the caller
// needing to know how deep the chain runs.
func (c *fakeConn) blockClearLen(id boxstore.ObjectID, ordinal int64) (int64, error) {
	obj, err := c.parseObject(id)
	if err != nil {
		return 0, err
	}
	idx := int(ordinal) - 1
	if idx < 0 || idx >= len(obj.Trailer.Entries) {
		return 0, fmt.Errorf("block ordinal %d out of range for object %d", ordinal, id)
	}
	e := obj.Trailer.Entries[idx]
	if e.IsPresent() {
		return e.EncodedSize - 16, nil
	}
	return c.blockClearLen(obj.Trailer.Header.OtherFileID, e.BorrowedBlock())
}

func (c *fakeConn) FetchBlock(ctx context.Context, id boxstore.ObjectID, blockOrdinal int64) ([]byte, error) {
	obj, err := c.parseObject(id)
	if err != nil {
		return nil, err
	}

	cleartext, _, err := obj.Decode(c.cc, func(other boxstore.ObjectID, ordinal int64) ([]byte, error) {
		return c.FetchBlock(ctx, other, ordinal)
	}, nil)
	if err != nil {
		return nil, err
	}

	var offset int64
	for i := 0; i < int(blockOrdinal)-1; i++ {
		n, err := c.blockClearLen(id, int64(i)+1)
		if err != nil {
			return nil, err
		}
		offset += n
	}
	n, err := c.blockClearLen(id, blockOrdinal)
	if err != nil {
		return nil, err
	}
	return cleartext[offset : offset+n], nil
}

func (c *fakeConn) StoreObject(_ context.Context, _ boxstore.ObjectID, data []byte) (boxstore.ObjectID, error) {
	c.nextID++
	id := boxstore.ObjectID(c.nextID)
	c.objects[id] = append([]byte(nil), data...)
	return id, nil
}

func (c *fakeConn) StoreDirectory(_ context.Context, d *boxstore.Directory) error {
	c.directories[d.Header.ObjectID] = d
	return nil
}

func (c *fakeConn) DeleteDirectory(_ context.Context, id boxstore.ObjectID) error {
	c.deletedDirs = append(c.deletedDirs, id)
	delete(c.directories, id)
	return nil
}

func (c *fakeConn) DeleteFile(_ context.Context, dirID boxstore.ObjectID, name *boxstore.EncodedFilename) error {
	c.deletedFiles = append(c.deletedFiles, struct {
		dirID boxstore.ObjectID
		name  *boxstore.EncodedFilename
	}{dirID, name})
	return nil
}
