// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads the §6.4 settings surface from a JSON file,
// validating it against an embedded JSON Schema before decoding, and
// overlays values from a ".env" file so per-deployment identity (id,
// domain) and the checkpoint path never need to live in the checked-in
// settings file. This follows the
// teacher's own config.Init (read file, schema.Validate, strict-decode)
// shape, swapping its DB/archiver settings for karl's transport/
// checkpoint/filter settings.
package config

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/joho/godotenv"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*
var schemaFiles embed.FS

func loadSchemaFile(s string) (io.ReadCloser, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("config: parsing schema url %q: %w", s, err)
	}
	return schemaFiles.Open(u.Host + u.Path)
}

func init() {
	jsonschema.Loaders["embedfs"] = loadSchemaFile
}

// Settings mirrors spec.md §6.4's settings table.
type Settings struct {
	Domain string `json:"domain"`
	ID     string `json:"id"`

	QueueLength             int      `json:"queue_length"`
	Reliability             string   `json:"reliability"`
	Hosts                   []string `json:"hosts"`
	ReadThreads             int      `json:"read_threads"`
	ReadThreadHertz         float64  `json:"read_thread_hertz"`
	SendReducedMessageHeader bool    `json:"send_reduced_message_header"`
	ParticipantTTL          int      `json:"participant_ttl"`
	RebroadcastTTL          int      `json:"rebroadcast_ttl"`

	DropRate  float64 `json:"drop_rate"`
	DropType  string  `json:"drop_type"`
	DropBurst int     `json:"drop_burst"`

	TrustedPeers []string `json:"trusted_peers"`
	BannedPeers  []string `json:"banned_peers"`

	OnDataReceivedLogic string `json:"on_data_received_logic"`
	PrePrintStatement   string `json:"pre_print_statement"`
	PostPrintStatement  string `json:"post_print_statement"`

	DelaySendingModifieds bool `json:"delay_sending_modifieds"`
	TreatGlobalsAsLocals  bool `json:"treat_globals_as_locals"`
	AlwaysOverwrite       bool `json:"always_overwrite"`
	SignalUpdates         bool `json:"signal_updates"`
	TrackLocalChanges     bool `json:"track_local_changes"`
	ClockIncrement        uint64 `json:"clock_increment"`

	MaxWaitTime   float64 `json:"max_wait_time"`
	PollFrequency float64 `json:"poll_frequency"`

	CheckpointPath        string  `json:"checkpoint_path"`
	CheckpointFrequencyHz float64 `json:"checkpoint_frequency_hz"`
}

// Defaults mirrors the teacher's package-level Keys variable: a fully
// populated Settings a caller can override field-by-field rather than
// starting from a zero value.
var Defaults = Settings{
	Domain:          "default",
	QueueLength:     64,
	Reliability:     "best-effort",
	ReadThreads:     1,
	ParticipantTTL:  4,
	RebroadcastTTL:  4,
	DropType:        "deterministic",
	SignalUpdates:   true,
	TrackLocalChanges: true,
	ClockIncrement:  1,
	PollFrequency:   1.0,
	CheckpointPath:  "./var/karl.checkpoint",
	CheckpointFrequencyHz: 1.0,
}

// Load reads and validates the settings file at path, applying any
// overrides found in envPath (a ".env" file; pass "" to skip it) after
// decoding, so environment-specific values override the file's `id`,
// `domain` and `checkpoint_path` without editing the checked-in file.
// Other settings, `hosts` among them, come from the JSON file only.
func Load(path, envPath string) (Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("config: reading %q: %w", path, err)
	}

	if err := Validate(raw); err != nil {
		return Settings{}, fmt.Errorf("config: validating %q: %w", path, err)
	}

	settings := Defaults
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&settings); err != nil {
		return Settings{}, fmt.Errorf("config: decoding %q: %w", path, err)
	}

	if envPath != "" {
		overrides, err := godotenv.Read(envPath)
		if err != nil && !os.IsNotExist(err) {
			return Settings{}, fmt.Errorf("config: reading %q: %w", envPath, err)
		}
		applyEnvOverrides(&settings, overrides)
	}

	return settings, nil
}

// applyEnvOverrides maps a small, fixed set of KARL_*-prefixed keys from
// a .env file onto Settings; this is deliberately narrow (identity and
// checkpoint path only) rather than a generic reflection-based
// mapper, since only those values are expected to vary per-deployment.
func applyEnvOverrides(s *Settings, env map[string]string) {
	if v, ok := env["KARL_ID"]; ok && v != "" {
		s.ID = v
	}
	if v, ok := env["KARL_DOMAIN"]; ok && v != "" {
		s.Domain = v
	}
	if v, ok := env["KARL_CHECKPOINT_PATH"]; ok && v != "" {
		s.CheckpointPath = v
	}
}

// Validate checks raw against the embedded settings schema.
func Validate(raw []byte) error {
	s, err := jsonschema.Compile("embedFS://schemas/settings.schema.json")
	if err != nil {
		return fmt.Errorf("config: compiling schema: %w", err)
	}

	var v interface{}
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&v); err != nil {
		return fmt.Errorf("config: decoding for validation: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("config: schema violation: %v", err)
	}
	return nil
}
