// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package checkpoint implements the §4.9 background checkpoint streamer:
// the context's changed-set is swapped and cleared under its own lock on
// every scheduler tick (via kcontext.Context.Snapshot), and flushed to
// disk outside that lock in the §6.3 binary format (or, if configured, the
// checkpoint/legacyavro format), so the streamer never blocks a writer.
// The periodic tick itself is driven by gocron/v2 rather than a
// hand-rolled ticker goroutine, following the interval-driven scheduling
// shape the teacher applies to its own checkpoint/rotation jobs.
package checkpoint

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/openkarl/karl/checkpoint/archive"
	"github.com/openkarl/karl/checkpoint/legacyavro"
	"github.com/openkarl/karl/kcontext"
	"github.com/openkarl/karl/klog"
	"github.com/openkarl/karl/record"
	"github.com/openkarl/karl/wire"
)

// Magic is the 4-byte §6.3 checkpoint file identifier.
const Magic = "KaRL"

// FormatVersion is the §6.3 on-disk format version this package writes.
const FormatVersion uint32 = 1

// Format selects the on-disk encoding a Streamer uses.
type Format int

const (
	// Binary is the default §6.3 wire-layout format.
	Binary Format = iota
	// AvroLegacy is handled by the checkpoint/legacyavro package; a
	// Streamer configured with it delegates entirely to a Writer supplied
	// by that package instead of this package's binary encoder.
	AvroLegacy
)

// Writer is the sink a Streamer flushes staged records to. Binary format
// uses fileWriter; other formats (legacyavro) provide their own.
type Writer interface {
	// WriteRecords appends the given records to the checkpoint, returning
	// the new total record count written to the sink.
	WriteRecords(batch map[string]record.Record) (total uint64, err error)
	Close() error
}

// Settings configures a Streamer.
type Settings struct {
	Path      string
	Frequency time.Duration
	Format    Format

	// RotateBytes, when positive, closes off the current on-disk segment
	// and starts a fresh one once it reaches this size; zero (the
	// default) disables rotation entirely.
	RotateBytes int64

	// Archiver, when set, uploads each rotated-out segment to S3 via
	// checkpoint/archive. Has no effect unless RotateBytes is also set,
	// since nothing is ever rotated out otherwise.
	Archiver *archive.Archiver
}

// Streamer periodically flushes the context's accumulated changes to a
// Writer, per §4.9.
type Streamer struct {
	log *klog.Logger
	ctx *kcontext.Context

	rotateBytes int64
	archiver    *archive.Archiver

	writer    Writer
	scheduler gocron.Scheduler
	job       gocron.Job
}

// NewStreamer builds a Streamer over ctx, writing settings.Format-encoded
// records to settings.Path at the given frequency. Use
// NewStreamerWithWriter to plug in a caller-supplied Writer instead.
func NewStreamer(ctx *kcontext.Context, settings Settings, log *klog.Logger) (*Streamer, error) {
	w, err := newWriterForFormat(settings)
	if err != nil {
		return nil, err
	}
	return NewStreamerWithWriter(ctx, settings, w, log)
}

// newWriterForFormat builds the on-disk Writer settings.Format names.
func newWriterForFormat(settings Settings) (Writer, error) {
	switch settings.Format {
	case AvroLegacy:
		return legacyavro.New(settings.Path)
	default:
		return NewFileWriter(settings.Path)
	}
}

// NewStreamerWithWriter builds a Streamer that flushes through w instead of
// the default §6.3 file format.
func NewStreamerWithWriter(ctx *kcontext.Context, settings Settings, w Writer, log *klog.Logger) (*Streamer, error) {
	if log == nil {
		log = klog.Default()
	}
	if settings.Frequency <= 0 {
		return nil, fmt.Errorf("checkpoint: frequency must be positive")
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("checkpoint: building scheduler: %w", err)
	}

	s := &Streamer{
		log:         log,
		ctx:         ctx,
		rotateBytes: settings.RotateBytes,
		archiver:    settings.Archiver,
		writer:      w,
		scheduler:   sched,
	}

	job, err := sched.NewJob(
		gocron.DurationJob(settings.Frequency),
		gocron.NewTask(s.tick),
	)
	if err != nil {
		sched.Shutdown()
		return nil, fmt.Errorf("checkpoint: scheduling tick: %w", err)
	}
	s.job = job
	return s, nil
}

// Start begins the scheduler's background tick loop.
func (s *Streamer) Start() {
	s.scheduler.Start()
}

// tick runs on every scheduler fire: swap and clear the context's
// changed-set under its own lock (kcontext.Context.Snapshot), then flush
// outside that lock so writers are never blocked on disk I/O.
func (s *Streamer) tick() {
	batch := s.ctx.Snapshot(false, true)
	if len(batch) == 0 {
		return
	}
	if _, err := s.writer.WriteRecords(batch); err != nil {
		s.log.Errf("checkpoint: flushing %d records: %v", len(batch), err)
		return
	}
	s.maybeRotate()
}

// rotator is implemented by Writers that can close off their current
// on-disk segment and start a fresh one; fileWriter and legacyavro.Writer
// both satisfy it.
type rotator interface {
	Rotate() (segmentPath string, err error)
}

// sizer reports a Writer's current on-disk size, for rotation threshold
// checks.
type sizer interface {
	Size() (int64, error)
}

// maybeRotate closes off the current segment and starts a new one once it
// crosses settings.RotateBytes, archiving the closed segment if an
// Archiver was configured. A Writer that implements neither rotator nor
// sizer is left alone -- rotation is optional, not required, per §4.9.
func (s *Streamer) maybeRotate() {
	if s.rotateBytes <= 0 {
		return
	}
	sz, ok := s.writer.(sizer)
	if !ok {
		return
	}
	n, err := sz.Size()
	if err != nil {
		s.log.Warnf("checkpoint: checking segment size: %v", err)
		return
	}
	if n < s.rotateBytes {
		return
	}
	rot, ok := s.writer.(rotator)
	if !ok {
		return
	}
	segment, err := rot.Rotate()
	if err != nil {
		s.log.Errf("checkpoint: rotating segment: %v", err)
		return
	}
	s.log.Infof("checkpoint: rotated segment %s", segment)
	if s.archiver == nil {
		return
	}
	if _, err := s.archiver.UploadSegment(context.Background(), segment); err != nil {
		s.log.Errf("checkpoint: archiving segment %s: %v", segment, err)
	}
}

// FlushNow snapshots every non-local entry and flushes it immediately,
// outside the regular tick schedule, for callers that want a synchronous
// one-off checkpoint.
func (s *Streamer) FlushNow() error {
	batch := s.ctx.Snapshot(true, false)
	if len(batch) == 0 {
		return nil
	}
	_, err := s.writer.WriteRecords(batch)
	return err
}

// Close drains any remaining changes, stops the scheduler and closes the
// underlying writer, per §4.9's shutdown step.
func (s *Streamer) Close() error {
	if batch := s.ctx.Snapshot(false, true); len(batch) > 0 {
		if _, err := s.writer.WriteRecords(batch); err != nil {
			s.log.Errf("checkpoint: final flush: %v", err)
		}
	}
	if err := s.scheduler.Shutdown(); err != nil {
		s.log.Warnf("checkpoint: scheduler shutdown: %v", err)
	}
	return s.writer.Close()
}

// fileWriter implements Writer over a §6.3 binary checkpoint file: a
// 4-byte magic, 4-byte version, 8-byte running record count, then each
// record's §6.1.1 serialization without the enclosing message header.
// The count is rewritten in place on every flush so the file is
// consistently appendable, mirroring the teacher's own
// magic+version+big-endian-header style in its binary checkpoint format.
type fileWriter struct {
	mu    sync.Mutex
	path  string
	f     *os.File
	count uint64
}

// NewFileWriter opens (creating if needed) the §6.3 checkpoint file at
// path, positioned to append further records after any already present.
func NewFileWriter(path string) (Writer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: opening %q: %w", path, err)
	}

	w := &fileWriter{path: path, f: f}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		if err := w.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		if err := w.readHeader(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *fileWriter) writeHeader() error {
	buf := make([]byte, 16)
	copy(buf[0:4], Magic)
	binary.BigEndian.PutUint32(buf[4:8], FormatVersion)
	binary.BigEndian.PutUint64(buf[8:16], w.count)
	if _, err := w.f.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("checkpoint: writing header: %w", err)
	}
	return nil
}

func (w *fileWriter) readHeader() error {
	buf := make([]byte, 16)
	if _, err := w.f.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("checkpoint: reading header: %w", err)
	}
	if string(buf[0:4]) != Magic {
		return fmt.Errorf("checkpoint: bad magic %q", buf[0:4])
	}
	w.count = binary.BigEndian.Uint64(buf[8:16])
	return nil
}

// WriteRecords appends batch's entries to the file and rewrites the
// record count header.
func (w *fileWriter) WriteRecords(batch map[string]record.Record) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var buf []byte
	for name, r := range batch {
		buf = wire.EncodeRecord(buf, name, r)
	}
	if _, err := w.f.Seek(0, os.SEEK_END); err != nil {
		return w.count, fmt.Errorf("checkpoint: seeking to end: %w", err)
	}
	if _, err := w.f.Write(buf); err != nil {
		return w.count, fmt.Errorf("checkpoint: appending records: %w", err)
	}

	w.count += uint64(len(batch))
	if err := w.writeHeader(); err != nil {
		return w.count, err
	}
	return w.count, nil
}

func (w *fileWriter) Close() error {
	return w.f.Close()
}

// Size reports the checkpoint file's current size in bytes, for
// Streamer's rotation threshold check.
func (w *fileWriter) Size() (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	info, err := w.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("checkpoint: statting segment: %w", err)
	}
	return info.Size(), nil
}

// Rotate closes off the current file, renames it aside as a timestamped
// segment, and reopens a fresh, empty file at the original path, returning
// the closed-off segment's path.
func (w *fileWriter) Rotate() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.f.Close(); err != nil {
		return "", fmt.Errorf("checkpoint: closing segment for rotation: %w", err)
	}
	segment := fmt.Sprintf("%s.%d", w.path, time.Now().UnixNano())
	if err := os.Rename(w.path, segment); err != nil {
		return "", fmt.Errorf("checkpoint: renaming segment: %w", err)
	}

	f, err := os.OpenFile(w.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return "", fmt.Errorf("checkpoint: opening fresh segment: %w", err)
	}
	w.f = f
	w.count = 0
	if err := w.writeHeader(); err != nil {
		return "", err
	}
	return segment, nil
}

// LoadFile reads every record from a §6.3 checkpoint file at path and
// applies each one to ctx via ApplyRemote, per the §4.5 load-time
// per-record apply loop. Quality/clock are taken from each record's own
// fields (sender quality/clock equal to the record's stored quality/clock),
// since a checkpoint has no enclosing message header to supply them.
func LoadFile(ctx *kcontext.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: reading %q: %w", path, err)
	}
	if len(data) < 16 {
		return 0, fmt.Errorf("checkpoint: file too short for header")
	}
	if string(data[0:4]) != Magic {
		return 0, fmt.Errorf("checkpoint: bad magic %q", data[0:4])
	}
	count := binary.BigEndian.Uint64(data[8:16])

	buf := data[16:]
	applied := 0
	for i := uint64(0); i < count; i++ {
		name, r, consumed, err := wire.DecodeRecord(buf)
		if err != nil {
			return applied, fmt.Errorf("checkpoint: decoding record %d: %w", i, err)
		}
		buf = buf[consumed:]
		ctx.ApplyRemote(name, r, r.Quality, r.Clock, kcontext.Settings{SuppressSignal: true})
		applied++
	}
	return applied, nil
}
