// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openkarl/karl/kcontext"
	"github.com/openkarl/karl/record"
	"github.com/stretchr/testify/require"
)

func TestFileWriterRoundTripsThroughLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.bin")

	w, err := NewFileWriter(path)
	require.NoError(t, err)

	// Clock 1: LoadFile reconciles each record against the empty context's
	// clock-0 entries, and an equal clock at equal quality is rejected.
	answer := record.Int(42)
	answer.Clock = 1
	pi := record.Dbl(3.14)
	pi.Clock = 1
	batch := map[string]record.Record{
		"answer": answer,
		"pi":     pi,
	}
	total, err := w.WriteRecords(batch)
	require.NoError(t, err)
	require.Equal(t, uint64(2), total)
	require.NoError(t, w.Close())

	ctx := kcontext.New(nil)
	n, err := LoadFile(ctx, path)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, int64(42), ctx.Get("answer").ToInteger())
	require.Equal(t, 3.14, ctx.Get("pi").ToDouble())
}

func TestFileWriterAppendsAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.bin")

	w, err := NewFileWriter(path)
	require.NoError(t, err)
	_, err = w.WriteRecords(map[string]record.Record{"a": record.Int(1)})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w2, err := NewFileWriter(path)
	require.NoError(t, err)
	total, err := w2.WriteRecords(map[string]record.Record{"b": record.Int(2)})
	require.NoError(t, err)
	require.Equal(t, uint64(2), total)
	require.NoError(t, w2.Close())

	ctx := kcontext.New(nil)
	n, err := LoadFile(ctx, path)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestStreamerFlushNowWritesSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.bin")
	ctx := kcontext.New(nil)
	ref := ctx.GetRef("x")
	ctx.Set(ref, record.Int(7), kcontext.Settings{Quality: 1})

	s, err := NewStreamer(ctx, Settings{Path: path, Frequency: time.Hour}, nil)
	require.NoError(t, err)
	require.NoError(t, s.FlushNow())
	require.NoError(t, s.Close())

	loaded := kcontext.New(nil)
	n, err := LoadFile(loaded, path)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, int64(7), loaded.Get("x").ToInteger())
}

func TestStreamerTickFlushesContextChangedSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.bin")
	ctx := kcontext.New(nil)
	ref := ctx.GetRef("y")
	ctx.Set(ref, record.Int(9), kcontext.Settings{Quality: 1})

	s, err := NewStreamer(ctx, Settings{Path: path, Frequency: time.Hour}, nil)
	require.NoError(t, err)
	s.tick()
	require.NoError(t, s.Close())

	loaded := kcontext.New(nil)
	n, err := LoadFile(loaded, path)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, int64(9), loaded.Get("y").ToInteger())
}

func TestNewStreamerDispatchesAvroLegacyFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.avro")
	ctx := kcontext.New(nil)
	ref := ctx.GetRef("x")
	ctx.Set(ref, record.Int(7), kcontext.Settings{Quality: 1})

	s, err := NewStreamer(ctx, Settings{Path: path, Frequency: time.Hour, Format: AvroLegacy}, nil)
	require.NoError(t, err)
	require.NoError(t, s.FlushNow())
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 4)
	require.Equal(t, "Obj", string(data[:3]))
}

func TestStreamerRotatesSegmentOnThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.bin")
	ctx := kcontext.New(nil)
	ref := ctx.GetRef("x")
	ctx.Set(ref, record.Int(1), kcontext.Settings{Quality: 1})

	s, err := NewStreamer(ctx, Settings{Path: path, Frequency: time.Hour, RotateBytes: 1}, nil)
	require.NoError(t, err)
	s.tick()

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(entries), 2, "expected the original segment plus the fresh, post-rotation file")
	require.NoError(t, s.Close())
}
