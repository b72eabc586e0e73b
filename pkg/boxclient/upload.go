package boxclient

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/djherbis/buffer"
	"github.com/djherbis/nio"

	"github.com/vorteil/boxbackup/pkg/boxcrypto"
	"github.com/vorteil/boxbackup/pkg/boxstore"
	"github.com/vorteil/boxbackup/pkg/elog"
)

// uploadBufferSize bounds the backpressure pipe between the diff
// encoder and the network writer; matches vpkg.ReaderFromBuilder's own
// 1 MiB choice for the same producer/consumer shape.
const uploadBufferSize = 1 << 20

// UploadPlan describes the outcome of the fresh-vs-diff decision
// (spec §4.5.2 step 5 / §4.9 step 3), returned alongside the encoded
// bytes so the caller can log or test the decision directly.
type UploadPlan struct {
	IsDiff                bool
	IsCompletelyDifferent bool
	PriorObjectID         boxstore.ObjectID
	Trailer               *boxstore.Trailer
}

// UploadFile implements C9: decide whether to encode localPath's
// cleartext as a diff against the cached prior object or as a fresh
// object, then stream the result to conn through a buffered pipe so
// encoding never blocks on the network and the network never blocks
// waiting on disk I/O for longer than one buffer's worth of slack.
//
// priorID is the object id of the previous backup of this path, or 0
// if this is the first backup. On success the new object's id is
// recorded as the path's prior object and its trailer cached for next
// time.
func UploadFile(ctx context.Context, cc *boxcrypto.Context, conn Conn, ds *DiffState, view elog.View, cfg *Config, localPath, name string, cleartext []byte, priorID boxstore.ObjectID, containerID boxstore.ObjectID, now time.Time) (boxstore.ObjectID, *UploadPlan, error) {
	if view == nil {
		view = noopView{}
	}
	key := Key(cc, localPath)
	opts := boxstore.EncodeOptions{ContainerID: containerID, ModTime: now}

	prior, err := resolvePrior(ctx, conn, ds, key, priorID, now)
	if err != nil {
		return 0, nil, err
	}

	plan := &UploadPlan{PriorObjectID: priorID}
	var encodedLen int
	var trailer *boxstore.Trailer
	var payload []byte

	if prior != nil {
		diff, err := boxstore.EncodeDiff(cc, cleartext, name, opts, priorID, prior, boxstore.DiffBudget{Timeout: cfg.DiffBudget})
		if err != nil {
			return 0, nil, fmt.Errorf("boxclient: encoding diff for %s: %w", localPath, err)
		}
		if !diff.IsCompletelyDifferent && matchRatio(diff.Trailer) >= cfg.MinMatchRatio {
			plan.IsDiff = true
			trailer = diff.Trailer
			payload = diff.Buf.Bytes()
			encodedLen = len(payload)
			view.Debugf("boxclient: %s encoded as diff against object %d (%d blocks)", localPath, priorID, len(trailer.Entries))
		} else {
			plan.IsCompletelyDifferent = true
		}
	}

	if trailer == nil {
		fresh, freshTrailer, err := boxstore.EncodeFresh(cc, cleartext, name, opts)
		if err != nil {
			return 0, nil, fmt.Errorf("boxclient: encoding fresh object for %s: %w", localPath, err)
		}
		trailer = freshTrailer
		payload = fresh.Bytes()
		encodedLen = len(payload)
	}
	plan.Trailer = trailer

	id, err := streamObject(ctx, conn, view, containerID, payload, encodedLen)
	if err != nil {
		return 0, nil, err
	}

	ds.Record(key, id, trailer, now)
	return id, plan, nil
}

// streamObject writes the already-encoded object bytes to conn
// through a djherbis/nio pipe, so StoreObject's consumption and the
// (already-finished) encoder never compete for the same goroutine's
// attention; grounded on vpkg.ReaderFromBuilder's identical
// nio.Pipe/buffer.New pump-in-a-goroutine shape.
func streamObject(ctx context.Context, conn Conn, view elog.View, containerID boxstore.ObjectID, payload []byte, size int) (boxstore.ObjectID, error) {
	r, w := nio.Pipe(buffer.New(uploadBufferSize))
	prog := view.NewProgress("upload", "bytes", int64(size))

	go func() {
		defer w.Close()
		if _, err := w.Write(payload); err != nil {
			w.CloseWithError(err)
			return
		}
		prog.Increment(int64(size))
	}()

	raw, err := io.ReadAll(r)
	prog.Finish(err == nil)
	if err != nil {
		return 0, fmt.Errorf("boxclient: streaming object: %w", err)
	}

	return conn.StoreObject(ctx, containerID, raw)
}

type noopView struct{}

func (noopView) Debugf(string, ...interface{})                   {}
func (noopView) Errorf(string, ...interface{})                   {}
func (noopView) Infof(string, ...interface{})                    {}
func (noopView) Printf(string, ...interface{})                   {}
func (noopView) Warnf(string, ...interface{})                    {}
func (noopView) IsInfoEnabled() bool                             { return false }
func (noopView) IsDebugEnabled() bool                            { return false }
func (noopView) NewProgress(string, string, int64) elog.Progress { return noopProgress{} }

type noopProgress struct{}

func (noopProgress) Finish(bool)                    {}
func (noopProgress) Increment(int64)                {}
func (noopProgress) Write(p []byte) (int, error)    { return len(p), nil }
func (noopProgress) Seek(int64, int) (int64, error) { return 0, nil }
func (noopProgress) ProxyReader(r io.Reader) io.ReadCloser {
	if r == nil {
		return nil
	}
	return io.NopCloser(r)
}
