// Package upload sends a recorded file to the server in ordered chunks.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	slerrors "github.com/jwulff/steno-live/internal/errors"
	"github.com/jwulff/steno-live/internal/logging"
	"github.com/jwulff/steno-live/internal/metrics"
	"github.com/jwulff/steno-live/internal/model"
)

// DefaultChunkSize is the part size when none is configured.
const DefaultChunkSize = 5 * 1024 * 1024

// ChunkSender submits one chunk. chunk.Blob is left nil; the sender streams
// the chunk's bytes from body.
type ChunkSender interface {
	UploadChunk(ctx context.Context, sessionID string, chunk model.AudioChunk, body io.Reader) error
}

// File is a sized random-access source.
type File interface {
	io.ReaderAt
	Size() int64
}

// Progress is reported after every observable change.
type Progress struct {
	ChunkIndex        int
	TotalChunks       int
	BytesAcknowledged int64
	BytesInFlight     int64
	TotalBytes        int64
	Percent           float64
}

// Done reports whether every byte has been acknowledged.
func (p Progress) Done() bool {
	return p.TotalBytes > 0 && p.BytesAcknowledged == p.TotalBytes
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithChunkSize sets the part size.
func WithChunkSize(n int64) Option {
	return func(u *Uploader) { u.chunkSize = n }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(u *Uploader) { u.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(u *Uploader) { u.metrics = m }
}

// Uploader sends files chunk by chunk, strictly in order.
// There is no resume: any failure aborts and the caller starts over.
type Uploader struct {
	sender    ChunkSender
	chunkSize int64
	log       logging.Logger
	metrics   *metrics.Metrics
}

// New creates an Uploader.
func New(sender ChunkSender, opts ...Option) *Uploader {
	u := &Uploader{
		sender:    sender,
		chunkSize: DefaultChunkSize,
		log:       logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.chunkSize <= 0 {
		u.chunkSize = DefaultChunkSize
	}
	return u
}

// TotalChunks returns ceil(size / chunkSize).
func TotalChunks(size, chunkSize int64) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((size + chunkSize - 1) / chunkSize)
}

// UploadPath opens path and uploads it.
func (u *Uploader) UploadPath(ctx context.Context, path, sessionID string, progress func(Progress)) error {
	f, err := os.Open(path)
	if err != nil {
		return slerrors.New(slerrors.KindUploadFailed, "open", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return slerrors.New(slerrors.KindUploadFailed, "stat", path, err)
	}
	return u.Upload(ctx, sizedFile{File: f, size: info.Size()}, sessionID, progress)
}

// Upload sends file as ceil(size/chunkSize) ordered chunks.
func (u *Uploader) Upload(ctx context.Context, file File, sessionID string, progress func(Progress)) error {
	size := file.Size()
	if size <= 0 {
		return slerrors.New(slerrors.KindUploadFailed, "prepare", "file is empty", nil)
	}

	total := TotalChunks(size, u.chunkSize)
	tracker := &tracker{total: size, chunks: total, report: progress}
	start := time.Now()

	log := u.log.With(logging.F("session_id", sessionID), logging.F("total_chunks", total))
	log.Info("upload started", logging.F("bytes", size))

	buf := make([]byte, u.chunkSize)
	var acked int64
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return slerrors.New(slerrors.KindUploadFailed, fmt.Sprintf("chunk %d", i), "", err)
		}

		off := int64(i) * u.chunkSize
		n := u.chunkSize
		if off+n > size {
			n = size - off
		}
		part := buf[:n]
		if _, err := file.ReadAt(part, off); err != nil && err != io.EOF {
			return slerrors.New(slerrors.KindUploadFailed, fmt.Sprintf("chunk %d", i), "reading file", err)
		}

		chunk := model.AudioChunk{Index: i, TotalChunks: total}
		before := acked
		body := &countingReader{r: bytes.NewReader(part), onRead: func(read int64) {
			tracker.inFlight(i, before, read)
		}}

		if err := u.sender.UploadChunk(ctx, sessionID, chunk, body); err != nil {
			u.metrics.RecordChunk(false, 0)
			log.Warn("chunk failed", logging.F("chunk", i), logging.Err(err))
			return slerrors.New(slerrors.KindUploadFailed, fmt.Sprintf("chunk %d", i), "", err)
		}

		acked += n
		u.metrics.RecordChunk(true, int(n))
		tracker.acknowledged(i, acked)
		log.Debug("chunk acknowledged", logging.F("chunk", i), logging.F("acked", acked))
	}

	u.metrics.RecordUpload(time.Since(start))
	log.Info("upload complete", logging.F("elapsed", time.Since(start)))
	return nil
}

type sizedFile struct {
	*os.File
	size int64
}

func (f sizedFile) Size() int64 { return f.size }

// tracker turns byte counts into monotonic progress reports.
type tracker struct {
	total  int64
	chunks int
	report func(Progress)

	mu   sync.Mutex
	last float64
}

func (t *tracker) inFlight(chunk int, acked, read int64) {
	t.emit(Progress{ChunkIndex: chunk, BytesAcknowledged: acked, BytesInFlight: read})
}

func (t *tracker) acknowledged(chunk int, acked int64) {
	t.emit(Progress{ChunkIndex: chunk, BytesAcknowledged: acked})
}

func (t *tracker) emit(p Progress) {
	if t.report == nil {
		return
	}
	p.TotalChunks = t.chunks
	p.TotalBytes = t.total

	pct := float64(p.BytesAcknowledged+p.BytesInFlight) / float64(t.total) * 100
	t.mu.Lock()
	if pct < t.last {
		pct = t.last
	}
	t.last = pct
	t.mu.Unlock()

	p.Percent = pct
	t.report(p)
}

// countingReader reports the running byte count after every Read.
type countingReader struct {
	r      io.Reader
	n      int64
	onRead func(int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n += int64(n)
		c.onRead(c.n)
	}
	return n, err
}
