package engine

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"gramfs/internal/chunk"
	"gramfs/internal/common"
	"gramfs/internal/storage"
)

// Read returns up to length bytes of the file at path starting at off.
// The range is reconstructed from exactly the chunks it overlaps; a
// short result means end-of-file. Staged bytes overlay the flushed
// content so a handle observes its own pending writes.
func (e *Engine) Read(ctx context.Context, path string, off int64, length int) ([]byte, error) {
	path = common.NormalizePath(path)
	if off < 0 || length < 0 {
		return nil, fmt.Errorf("read %q: invalid range (offset %d, length %d)", path, off, length)
	}
	node, err := e.cat.ResolvePath(ctx, path)
	if err != nil {
		return nil, err
	}
	if node.IsDir() {
		return nil, fmt.Errorf("read %q: %w", path, common.ErrIsDir)
	}

	effSize := node.Size
	if end, ok := e.staging.end(path); ok && end > effSize {
		effSize = end
	}
	if off >= effSize || length == 0 {
		return nil, nil
	}
	n := min(int64(length), effSize-off)
	out := make([]byte, n)

	// Bytes beyond the flushed size come from the staging overlay or
	// read as zeros; only [off, node.Size) needs remote chunks.
	if remoteEnd := min(off+n, node.Size); off < remoteEnd {
		if err := e.readRemote(ctx, path, node, off, out[:remoteEnd-off]); err != nil {
			return nil, err
		}
	}
	e.staging.overlayInto(path, off, out)

	now := time.Now()
	if err := e.cat.BunDB().UpdateNode(ctx, node.ID, &storage.NodeUpdate{AccessedAt: &now}); err != nil {
		log.Warnf("read %s: update accessed_at: %v", path, err)
	}
	return out, nil
}

// readRemote fills dst from the flushed chunks of node, dst[0] being
// absolute offset off. The range must lie within [0, node.Size). A
// NULL blob id reads as zeros, a blob shorter than its window is
// zero-filled, and a failed fetch of a real blob id surfaces as ErrIO
// rather than silent zeros.
func (e *Engine) readRemote(ctx context.Context, path string, node *storage.Node, off int64, dst []byte) error {
	windows := chunk.Windows(e.chunkSize, off, int64(len(dst)))
	if len(windows) == 0 {
		return nil
	}
	records, err := e.cat.BunDB().Chunks(ctx, node.ID)
	if err != nil {
		return err
	}
	blobs := make(map[int64]string, len(records))
	for _, c := range records {
		blobs[c.Seq] = c.BlobID
	}

	for _, w := range windows {
		id, ok := blobs[w.Seq]
		if !ok {
			return fmt.Errorf("read %q: no chunk %d for size %d: %w",
				path, w.Seq, node.Size, common.ErrInconsistent)
		}
		if id == "" {
			continue
		}
		data, err := e.fetchBlob(ctx, id)
		if err != nil {
			return fmt.Errorf("read %q: fetch chunk %d (blob %s): %v: %w",
				path, w.Seq, id, err, common.ErrIO)
		}
		if int64(len(data)) > w.Off {
			pos := w.Seq*e.chunkSize + w.Off - off
			copy(dst[pos:], data[w.Off:min(int64(len(data)), w.End())])
		}
	}
	return nil
}

// Write stages p at offset off for the file at path and returns the
// number of bytes accepted. Nothing is uploaded here: the flusher
// reconciles the staged bytes with the remote chunks later. A write
// into a full staging region is shortened or, when it starts at or
// past the ceiling, rejected with ErrCapacity.
//
// The caller is responsible for path naming an open regular file; the
// flusher drops staged bytes whose node has disappeared by flush time.
func (e *Engine) Write(ctx context.Context, path string, off int64, p []byte) (int, error) {
	path = common.NormalizePath(path)
	if off < 0 {
		return 0, fmt.Errorf("write %q: negative offset %d", path, off)
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := e.staging.write(path, off, p)
	if err != nil {
		return n, fmt.Errorf("write %q: %w", path, err)
	}
	return n, nil
}
