// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openkarl/karl/kcontext"
	"github.com/openkarl/karl/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestHealthzReturnsOK(t *testing.T) {
	ctx := kcontext.New(nil)
	h := New(ctx, prometheus.NewRegistry(), nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDebugContextReturnsEntries(t *testing.T) {
	ctx := kcontext.New(nil)
	ref := ctx.GetRef("x")
	ctx.Set(ref, record.Int(42), kcontext.Settings{Quality: 1})

	h := New(ctx, prometheus.NewRegistry(), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/context", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []contextEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	require.Equal(t, "x", entries[0].Name)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	ctx := kcontext.New(nil)
	h := New(ctx, prometheus.NewRegistry(), nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
