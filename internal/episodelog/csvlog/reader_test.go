package csvlog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleMonitor = `#{"t_start": 1724300000.0, "env_id": "ReachArm-v1"}
r,l,t
-42.5,50,1.25
-30.0,50,2.51
-12.25,60,3.92
`

func writeMonitor(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "monitor.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestReaderParsesEpisodes checks rewards, lengths, and the recovered
// cumulative timestep axis.
func TestReaderParsesEpisodes(t *testing.T) {
	t.Parallel()

	r := NewReader(writeMonitor(t, sampleMonitor))
	entries, err := r.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)

	require.Equal(t, -42.5, entries[0].Reward)
	require.Equal(t, 50, entries[0].Length)
	require.Equal(t, int64(50), entries[0].Timestep)
	require.Equal(t, int64(100), entries[1].Timestep)
	require.Equal(t, int64(160), entries[2].Timestep)
	require.InDelta(t, 3.92, entries[2].WallTime, 1e-9)
}

// TestReaderMissingFile asserts a nonexistent file reads as zero entries.
func TestReaderMissingFile(t *testing.T) {
	t.Parallel()

	r := NewReader(filepath.Join(t.TempDir(), "absent.csv"))
	entries, err := r.ReadAll(context.Background())
	require.NoError(t, err)
	require.Empty(t, entries)
}

// TestReaderSkipsTornTailRow ensures a partially written final row does not
// invalidate earlier episodes.
func TestReaderSkipsTornTailRow(t *testing.T) {
	t.Parallel()

	r := NewReader(writeMonitor(t, sampleMonitor+"-5.0,"))
	entries, err := r.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)
}

// TestReaderMetadata reads the JSON header line.
func TestReaderMetadata(t *testing.T) {
	t.Parallel()

	r := NewReader(writeMonitor(t, sampleMonitor))
	meta, err := r.ReadMetadata()
	require.NoError(t, err)
	require.Equal(t, "ReachArm-v1", meta.EnvID)
	require.InDelta(t, 1724300000.0, meta.TStart, 1e-6)
}

// TestReaderHeaderOnly covers a file where training has produced no episodes.
func TestReaderHeaderOnly(t *testing.T) {
	t.Parallel()

	r := NewReader(writeMonitor(t, "#{\"t_start\": 1.0, \"env_id\": \"ReachArm-v1\"}\nr,l,t\n"))
	entries, err := r.ReadAll(context.Background())
	require.NoError(t, err)
	require.Empty(t, entries)
}
