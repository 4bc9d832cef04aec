// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package filterexport provides a whole-batch aggregate filter
// (filterchain.AggregateFilterFunc) that mirrors every numeric record
// passing through a chain out to an io.Writer as InfluxDB line protocol,
// for feeding a metrics pipeline alongside karl's own reconciliation. It
// encodes the shape the cc-backend line-protocol ingestion path parses
// (measurement + tags + a single "value" field), with domain/originator
// tags where that path reads cluster/hostname.
package filterexport

import (
	"io"
	"sync"
	"time"

	"github.com/influxdata/line-protocol/v2/lineprotocol"
	"github.com/openkarl/karl/filterchain"
	"github.com/openkarl/karl/klog"
	"github.com/openkarl/karl/record"
)

// Exporter writes every Integer/Double record it sees as a line-protocol
// point named by its entry name, tagged with the originating domain and
// peer, to w. Non-numeric records pass through untouched and are not
// exported. It is safe for concurrent use.
type Exporter struct {
	mu  sync.Mutex
	w   io.Writer
	log *klog.Logger
	enc lineprotocol.Encoder
}

// New builds an Exporter writing to w.
func New(w io.Writer, log *klog.Logger) *Exporter {
	if log == nil {
		log = klog.Default()
	}
	e := &Exporter{w: w, log: log}
	e.enc.SetPrecision(lineprotocol.Nanosecond)
	return e
}

// Filter is an filterchain.AggregateFilterFunc: it exports every numeric
// record in batch and returns batch unchanged, since exporting is a
// side effect, not a transform.
func (e *Exporter) Filter(batch map[string]record.Record, tc filterchain.TransportContext) map[string]record.Record {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.enc.Reset()
	now := time.Now()
	wrote := false
	for name, r := range batch {
		var v float64
		switch r.Variant {
		case record.Integer:
			v = float64(r.ToInteger())
		case record.Double:
			v = r.ToDouble()
		default:
			continue
		}
		e.enc.StartLine(name)
		if tc.Domain != "" {
			e.enc.AddTag("domain", tc.Domain)
		}
		if tc.Originator != "" {
			e.enc.AddTag("originator", tc.Originator)
		}
		e.enc.AddField("value", lineprotocol.MustNewValue(v))
		e.enc.EndLine(now)
		wrote = true
	}
	if !wrote {
		return batch
	}
	if err := e.enc.Err(); err != nil {
		e.log.Warnf("filterexport: encoding line protocol: %v", err)
		return batch
	}
	if _, err := e.w.Write(e.enc.Bytes()); err != nil {
		e.log.Warnf("filterexport: writing line protocol: %v", err)
	}
	return batch
}
