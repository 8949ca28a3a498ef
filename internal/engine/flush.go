package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"gramfs/internal/chunk"
	"gramfs/internal/common"
	"gramfs/internal/metrics"
	"gramfs/internal/storage"
)

const (
	// DefaultFlushInterval is how often the flusher scans for idle
	// staging regions.
	DefaultFlushInterval = 5 * time.Second

	// DefaultIdleThreshold is how long a region must go without writes
	// before it is drained.
	DefaultIdleThreshold = 10 * time.Second
)

// flusher drains idle staging regions to the blob store in the
// background. Writes stay in memory until a region has been quiet for
// the idle threshold, so a burst of small writes to the same file
// uploads once instead of once per write.
type flusher struct {
	eng      *Engine
	interval time.Duration
	idle     time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	running   atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func newFlusher(eng *Engine, interval, idle time.Duration) *flusher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if idle <= 0 {
		idle = DefaultIdleThreshold
	}
	return &flusher{
		eng:      eng,
		interval: interval,
		idle:     idle,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (f *flusher) start() {
	f.startOnce.Do(func() {
		f.running.Store(true)
		go f.run()
	})
}

func (f *flusher) run() {
	defer close(f.doneCh)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.tick(context.Background())
		}
	}
}

// tick drains every region idle past the threshold. Failures are
// logged and requeued inside flushPath; the scan moves on.
func (f *flusher) tick(ctx context.Context) {
	cutoff := time.Now().Add(-f.idle)
	for _, path := range f.eng.staging.idlePaths(cutoff) {
		_ = f.flushPath(ctx, path)
	}
}

// stop halts the loop and drains every remaining region.
func (f *flusher) stop(ctx context.Context) error {
	f.stopOnce.Do(func() { close(f.stopCh) })
	if f.running.Load() {
		<-f.doneCh
	}
	return f.flushAll(ctx)
}

// flushAll drains every region regardless of idle time and returns the
// first error. Regions whose flush fails keep their bytes.
func (f *flusher) flushAll(ctx context.Context) error {
	var first error
	for _, path := range f.eng.staging.paths() {
		if err := f.flushPath(ctx, path); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// flushPath drains the staging region for one path. The path's flush
// lock serializes this with structural operations and with concurrent
// flushes of the same path, so an older region can never land after a
// newer one. On failure the bytes are requeued; only a region whose
// file no longer exists is dropped.
func (f *flusher) flushPath(ctx context.Context, path string) error {
	unlock := f.eng.staging.lockFlush(path)
	defer unlock()

	rgn := f.eng.staging.take(path)
	if rgn == nil || len(rgn.buf) == 0 {
		return nil
	}

	start := time.Now()
	err := f.commitRegion(ctx, path, rgn)
	metrics.RecordFlush(time.Since(start), err)
	if errors.Is(err, common.ErrNotFound) {
		log.Debugf("flush %s: dropping %d staged bytes, file is gone", path, len(rgn.buf))
		return nil
	}
	if err != nil {
		rgn.failures++
		f.eng.staging.requeue(path, rgn)
		log.Warnf("flush %s failed (%d consecutive): %v", path, rgn.failures, err)
		return err
	}
	log.Debugf("flushed %s: %d bytes at offset %d", path, len(rgn.buf), rgn.base)
	return nil
}

// commitRegion reconciles one taken region with the remote chunks:
// read-modify-write for partially covered chunks, an upload per
// affected chunk, then a single catalog transaction swapping in the
// new blob references and bumping the size. The catalog is untouched
// until every upload has succeeded, so a failed flush leaves the file
// exactly as it was.
func (f *flusher) commitRegion(ctx context.Context, path string, rgn *region) error {
	e := f.eng
	node, err := e.cat.ResolvePath(ctx, path)
	if err != nil {
		return err
	}
	if !node.IsRegular() {
		return fmt.Errorf("flush %q: path no longer names a regular file: %w",
			path, common.ErrNotFound)
	}

	records, err := e.cat.BunDB().Chunks(ctx, node.ID)
	if err != nil {
		return err
	}
	blobs := make(map[int64]string, len(records))
	for _, c := range records {
		blobs[c.Seq] = c.BlobID
	}

	windows := chunk.Windows(e.chunkSize, rgn.base, int64(len(rgn.buf)))
	type upload struct {
		seq  int64
		data []byte
	}
	uploads := make([]upload, 0, len(windows))
	for _, w := range windows {
		data, err := f.mergeChunk(ctx, node, blobs, rgn, w)
		if err != nil {
			return err
		}
		uploads = append(uploads, upload{seq: w.Seq, data: data})
	}

	// Upload everything before touching the catalog.
	ids := make(map[int64]string, len(uploads))
	var newEnd int64
	for _, u := range uploads {
		id, err := e.store.Upload(ctx, u.data)
		if err != nil {
			return fmt.Errorf("flush %q: upload chunk %d: %w", path, u.seq, err)
		}
		e.blobCache.Put(id, u.data)
		ids[u.seq] = id
		if end := u.seq*e.chunkSize + int64(len(u.data)); end > newEnd {
			newEnd = end
		}
	}

	return e.cat.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		cur, err := e.cat.BunDB().NodeByIDWith(tx, ctx, node.ID)
		if err != nil {
			return err
		}
		// A region that starts past the current content leaves a gap of
		// whole chunks; materialize NULL records for them so sequences
		// stay contiguous from 0 and the gap reads as zeros.
		oldCount := chunk.Count(e.chunkSize, cur.Size)
		for seq := oldCount; seq < uploads[0].seq; seq++ {
			if err := e.cat.BunDB().UpsertChunkWith(tx, ctx, node.ID, seq, ""); err != nil {
				return err
			}
		}
		for _, u := range uploads {
			if err := e.cat.BunDB().UpsertChunkWith(tx, ctx, node.ID, u.seq, ids[u.seq]); err != nil {
				return err
			}
		}
		// Size only grows here; shrinking is truncate's job. A small
		// mid-file overwrite must not clip the file.
		size := max(cur.Size, newEnd)
		now := time.Now()
		return e.cat.BunDB().UpdateNodeWith(tx, ctx, node.ID, &storage.NodeUpdate{
			Size:      &size,
			UpdatedAt: &now,
		})
	})
}

// mergeChunk builds the full post-flush content of one chunk: the
// staged window layered over whatever the chunk already holds.
// Existing bytes outside the window survive, including any tail past
// the staged range. A window covering the whole chunk skips the fetch.
func (f *flusher) mergeChunk(ctx context.Context, node *storage.Node, blobs map[int64]string, rgn *region, w chunk.Window) ([]byte, error) {
	e := f.eng
	var existing []byte
	if id, ok := blobs[w.Seq]; ok {
		switch {
		case id == "":
			// Sparse slot: its logical content is zeros up to the
			// chunk's share of the file size.
			existing = make([]byte, chunkLogicalLen(e.chunkSize, node.Size, w.Seq))
		case w.Off == 0 && w.Len == e.chunkSize:
			// Fully covered, nothing to preserve.
		default:
			data, err := e.fetchBlob(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("merge chunk %d (blob %s): %w", w.Seq, id, err)
			}
			existing = data
		}
	}

	buf := make([]byte, max(int64(len(existing)), w.End()))
	copy(buf, existing)
	stagedOff := w.Seq*e.chunkSize + w.Off - rgn.base
	copy(buf[w.Off:w.End()], rgn.buf[stagedOff:stagedOff+w.Len])
	return buf, nil
}

// chunkLogicalLen returns how many logical bytes of a file of the
// given size fall in chunk seq.
func chunkLogicalLen(chunkSize, size, seq int64) int64 {
	start := seq * chunkSize
	if size <= start {
		return 0
	}
	return min(chunkSize, size-start)
}
