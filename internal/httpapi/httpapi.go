// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package httpapi exposes a small introspection HTTP surface over a
// running karl agent: liveness, a JSON dump of the context's current
// entries, and Prometheus metrics. It follows the teacher's own
// gorilla/mux router plus gorilla/handlers middleware stack (compression,
// panic recovery, CORS, request logging), scaled down from a full web
// application's router to three read-only debug endpoints.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/openkarl/karl/kcontext"
	"github.com/openkarl/karl/klog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// New builds the introspection router for ctx, scraping metrics from reg.
func New(ctx *kcontext.Context, reg *prometheus.Registry, log *klog.Logger) http.Handler {
	if log == nil {
		log = klog.Default()
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	router.HandleFunc("/debug/context", contextHandler(ctx)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	router.Use(handlers.CompressHandler)
	router.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))
	router.Use(handlers.CORS(
		handlers.AllowedHeaders([]string{"Content-Type"}),
		handlers.AllowedMethods([]string{http.MethodGet}),
		handlers.AllowedOrigins([]string{"*"}),
	))

	return handlers.CustomLoggingHandler(io.Discard, router, func(_ io.Writer, params handlers.LogFormatterParams) {
		log.Infof("httpapi: %s %s %d", params.Request.Method, params.URL.Path, params.StatusCode)
	})
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// contextEntry is the JSON shape one context entry is rendered as on
// /debug/context; only scalar/string-convertible values are surfaced, as
// this is a debug aid, not a data export path.
type contextEntry struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Value   string `json:"value"`
	Clock   uint64 `json:"clock"`
	Quality uint32 `json:"quality"`
}

func contextHandler(ctx *kcontext.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batch := ctx.Snapshot(true, false)
		entries := make([]contextEntry, 0, len(batch))
		for name, rec := range batch {
			entries = append(entries, contextEntry{
				Name:    name,
				Type:    rec.Variant.String(),
				Value:   rec.ToString(","),
				Clock:   rec.Clock,
				Quality: rec.Quality,
			})
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		json.NewEncoder(w).Encode(entries)
	}
}
