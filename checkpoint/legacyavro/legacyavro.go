// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package legacyavro implements an alternate checkpoint.Writer backed by
// Avro object container files, for interoperating with older karl
// deployments that still expect the teacher's avro checkpoint format
// rather than the §6.3 binary layout. Integer, Double, String and Binary
// records are flattened to a union-typed Avro record matching the
// record.Variant they carry, since Avro has no native notion of karl's
// tagged Record type; a record of any other variant is rejected with an
// error.
package legacyavro

import (
	"fmt"
	"os"
	"time"

	"github.com/linkedin/goavro/v2"
	"github.com/openkarl/karl/record"
)

// schema describes one flattened karl record as an Avro object. Only one
// of the value_* fields is set, selected by kind.
const schema = `{
  "type": "record",
  "name": "KarlRecord",
  "fields": [
    {"name": "name", "type": "string"},
    {"name": "kind", "type": "int"},
    {"name": "clock", "type": "long"},
    {"name": "quality", "type": "long"},
    {"name": "value_int", "type": ["null", "long"], "default": null},
    {"name": "value_double", "type": ["null", "double"], "default": null},
    {"name": "value_string", "type": ["null", "string"], "default": null},
    {"name": "value_bytes", "type": ["null", "bytes"], "default": null}
  ]
}`

// Writer implements checkpoint.Writer over an Avro OCF file.
type Writer struct {
	path  string
	f     *os.File
	ocf   *goavro.OCFWriter
	codec *goavro.Codec
	count uint64
}

// New opens (truncating any existing content) an Avro checkpoint file at
// path.
func New(path string) (*Writer, error) {
	codec, err := goavro.NewCodec(schema)
	if err != nil {
		return nil, fmt.Errorf("legacyavro: building codec: %w", err)
	}
	w, err := open(path, codec)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func open(path string, codec *goavro.Codec) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("legacyavro: creating %q: %w", path, err)
	}
	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               f,
		Codec:           codec,
		CompressionName: goavro.CompressionDeflateLabel,
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("legacyavro: building OCF writer: %w", err)
	}
	return &Writer{path: path, f: f, ocf: ocf, codec: codec}, nil
}

// WriteRecords appends batch as Avro records and returns the running
// total written by this Writer.
func (w *Writer) WriteRecords(batch map[string]record.Record) (uint64, error) {
	items := make([]interface{}, 0, len(batch))
	for name, r := range batch {
		item, err := toAvro(name, r)
		if err != nil {
			return w.count, err
		}
		items = append(items, item)
	}
	if err := w.ocf.Append(items); err != nil {
		return w.count, fmt.Errorf("legacyavro: appending: %w", err)
	}
	w.count += uint64(len(batch))
	return w.count, nil
}

func toAvro(name string, r record.Record) (map[string]interface{}, error) {
	out := map[string]interface{}{
		"name":         name,
		"kind":         int32(r.Variant),
		"clock":        int64(r.Clock),
		"quality":      int64(r.Quality),
		"value_int":    nil,
		"value_double": nil,
		"value_string": nil,
		"value_bytes":  nil,
	}
	switch r.Variant {
	case record.Integer:
		out["value_int"] = goavro.Union("long", r.ToInteger())
	case record.Double:
		out["value_double"] = goavro.Union("double", r.ToDouble())
	case record.String:
		out["value_string"] = goavro.Union("string", r.ToString(","))
	case record.Binary:
		out["value_bytes"] = goavro.Union("bytes", r.Bytes())
	default:
		return nil, fmt.Errorf("legacyavro: variant %s has no avro encoding", r.Variant)
	}
	return out, nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	return w.f.Close()
}

// Size reports the Avro file's current size in bytes, for
// checkpoint.Streamer's rotation threshold check.
func (w *Writer) Size() (int64, error) {
	info, err := w.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("legacyavro: statting segment: %w", err)
	}
	return info.Size(), nil
}

// Rotate closes off the current Avro file, renames it aside as a
// timestamped segment, and opens a fresh one at the original path,
// returning the closed-off segment's path.
func (w *Writer) Rotate() (string, error) {
	if err := w.f.Close(); err != nil {
		return "", fmt.Errorf("legacyavro: closing segment for rotation: %w", err)
	}
	segment := fmt.Sprintf("%s.%d", w.path, time.Now().UnixNano())
	if err := os.Rename(w.path, segment); err != nil {
		return "", fmt.Errorf("legacyavro: renaming segment: %w", err)
	}

	fresh, err := open(w.path, w.codec)
	if err != nil {
		return "", err
	}
	w.f, w.ocf, w.count = fresh.f, fresh.ocf, 0
	return segment, nil
}

// Load reads every record out of an Avro checkpoint file at path,
// returning them as a flat name->record batch for the caller to apply
// (mirroring checkpoint.LoadFile's role for the binary format).
func Load(path string) (map[string]record.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("legacyavro: opening %q: %w", path, err)
	}
	defer f.Close()

	reader, err := goavro.NewOCFReader(f)
	if err != nil {
		return nil, fmt.Errorf("legacyavro: building OCF reader: %w", err)
	}

	out := make(map[string]record.Record)
	for reader.Scan() {
		datum, err := reader.Read()
		if err != nil {
			return out, fmt.Errorf("legacyavro: reading record: %w", err)
		}
		m, ok := datum.(map[string]interface{})
		if !ok {
			return out, fmt.Errorf("legacyavro: unexpected datum type %T", datum)
		}
		name, r, err := fromAvro(m)
		if err != nil {
			return out, err
		}
		out[name] = r
	}
	return out, nil
}

func fromAvro(m map[string]interface{}) (string, record.Record, error) {
	name, _ := m["name"].(string)
	clock := uint64(m["clock"].(int64))
	quality := uint32(m["quality"].(int64))

	var r record.Record
	switch record.Variant(m["kind"].(int32)) {
	case record.Integer:
		r = record.Int(unwrap(m["value_int"]).(int64))
	case record.Double:
		r = record.Dbl(unwrap(m["value_double"]).(float64))
	case record.String:
		r = record.Str(unwrap(m["value_string"]).(string))
	case record.Binary:
		r = record.Bin(unwrap(m["value_bytes"]).([]byte))
	default:
		return "", record.Record{}, fmt.Errorf("legacyavro: unsupported kind %v", m["kind"])
	}
	r.Clock = clock
	r.Quality = quality
	r.WriteQuality = quality
	return name, r, nil
}

func unwrap(v interface{}) interface{} {
	if u, ok := v.(map[string]interface{}); ok {
		for _, inner := range u {
			return inner
		}
	}
	return v
}
