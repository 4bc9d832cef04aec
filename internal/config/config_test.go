// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadValidatesAndDecodes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"domain":"lab","id":"agent-1:7474","drop_rate":0.1}`), 0o644))

	s, err := Load(path, "")
	require.NoError(t, err)
	require.Equal(t, "lab", s.Domain)
	require.Equal(t, "agent-1:7474", s.ID)
	require.Equal(t, 0.1, s.DropRate)
	require.Equal(t, Defaults.ParticipantTTL, s.ParticipantTTL)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"domain":"lab","id":"a:1","not_a_real_field":true}`), 0o644))

	_, err := Load(path, "")
	require.Error(t, err)
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"drop_rate":0.1}`), 0o644))

	_, err := Load(path, "")
	require.Error(t, err)
}

func TestEnvOverridesApplyAfterFileDecode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"domain":"lab","id":"a:1"}`), 0o644))

	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("KARL_ID=override:9999\n"), 0o644))

	s, err := Load(path, envPath)
	require.NoError(t, err)
	require.Equal(t, "override:9999", s.ID)
}
