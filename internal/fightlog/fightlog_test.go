package fightlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWriterAppendAndSnapshot(t *testing.T) {
	root := t.TempDir()

	w, err := NewWriter(root, "session-1234", zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, w.Append("hello"))
	require.NoError(t, w.Append("world"))
	require.NoError(t, w.Snapshot(map[string]int{"damage": 1000}))
	require.NoError(t, w.Close())

	dir := filepath.Join(root, "session-1234")

	logBytes, err := os.ReadFile(filepath.Join(dir, "fight.log"))
	require.NoError(t, err)
	require.Contains(t, string(logBytes), "hello")
	require.Contains(t, string(logBytes), "world")

	snapBytes, err := os.ReadFile(filepath.Join(dir, "snapshot.json"))
	require.NoError(t, err)
	require.Contains(t, string(snapBytes), "damage")

	_, err = os.Stat(filepath.Join(dir, "fight.log.gz"))
	require.NoError(t, err)
}

func TestWriterAppendProto(t *testing.T) {
	root := t.TempDir()

	w, err := NewWriter(root, "session-5678", zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, w.AppendProto(&EventEnvelope{Kind: "damage", Actor: 1, Value: 500}))
	require.NoError(t, w.Close())

	b, err := os.ReadFile(filepath.Join(root, "session-5678", "fight.pb"))
	require.NoError(t, err)
	require.NotEmpty(t, b)
}

func TestWriterRejectsAfterClose(t *testing.T) {
	root := t.TempDir()

	w, err := NewWriter(root, "session-1", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.ErrorIs(t, w.Append("late"), ErrWriterClosed)
}
