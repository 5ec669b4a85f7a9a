package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careops/spine/pkg/contracts"
	"github.com/careops/spine/pkg/normalize"
)

const cliPackDoc = `
version: "1.0.0"
entities:
  RESIDENT:
    required_signals: [VITAL]
    accountability:
      role: charge-nurse
    deadlines:
      CRITICAL: 15m
      UNSAFE: 1h
      CONCERNING: 8h
      ACCEPTABLE: 72h
    bands:
      VITAL/heart_rate:
        low: 50
        high: 110
        critical_low: 40
        critical_high: 130
        unit: bpm
`

func writeTestWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	packsDir := filepath.Join(dir, "packs")
	require.NoError(t, os.Mkdir(packsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(packsDir, "pack-1.0.0.yaml"), []byte(cliPackDoc), 0o644))

	t.Setenv("THRESHOLD_PACKS_DIR", packsDir)
	t.Setenv("LEDGER_DRIVER", "memory")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("TELEMETRY_ENABLED", "")
	t.Setenv("ARCHIVE_BUCKET", "")
	t.Setenv("LOG_LEVEL", "ERROR")
	return dir
}

func TestRunUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"spine"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "Usage")

	code = Run([]string{"spine", "frobnicate"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
}

func TestRunVersions(t *testing.T) {
	writeTestWorkspace(t)

	var stdout, stderr bytes.Buffer
	code := Run([]string{"spine", "versions"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "1.0.0")
}

func TestRunEvaluate(t *testing.T) {
	dir := writeTestWorkspace(t)

	records := []rawInput{
		{
			Kind: "VITAL",
			RawRecord: recordOf("resident-1", "heart_rate", "131"),
		},
		{
			Kind: "VITAL",
			RawRecord: recordOf("resident-2", "heart_rate", "72"),
		},
	}
	body, err := json.Marshal(records)
	require.NoError(t, err)
	input := filepath.Join(dir, "records.json")
	require.NoError(t, os.WriteFile(input, body, 0o644))

	var stdout, stderr bytes.Buffer
	code := Run([]string{"spine", "evaluate", "-input", input}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	var judgments []contracts.Judgment
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &judgments))
	require.Len(t, judgments, 2)

	assert.Equal(t, "resident-1", judgments[0].EntityID)
	assert.Equal(t, contracts.ClassCritical, judgments[0].Classification)
	assert.Equal(t, "resident-2", judgments[1].EntityID)
	assert.Equal(t, contracts.ClassAcceptable, judgments[1].Classification)
}

func TestRunEvaluateMissingInput(t *testing.T) {
	writeTestWorkspace(t)

	var stdout, stderr bytes.Buffer
	code := Run([]string{"spine", "evaluate"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "-input is required")
}

func recordOf(entityID, subKey, value string) normalize.RawRecord {
	return normalize.RawRecord{
		EntityID:   entityID,
		EntityType: "RESIDENT",
		SubKey:     subKey,
		Value:      value,
		Unit:       "bpm",
		ObservedAt: "2026-03-01T07:55:00Z",
		Source:     "bedside-monitor",
	}
}
