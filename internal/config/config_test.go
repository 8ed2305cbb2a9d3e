package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesDocumentedDefaults(t *testing.T) {
	o := Default()

	require.True(t, o.AutoClearOnTimeout)
	require.Equal(t, 20000, o.IdleClearMs)
	require.False(t, o.EnableFightLog)
	require.Equal(t, 8989, o.LocalPort)
	require.Equal(t, 9002, o.CapturePort)
	require.Equal(t, 120000, o.FlowIdleMs)
}

func TestLoadFileOverlaysRecognizedKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pulsewatch.yaml")

	content := "interface: eth1\ncapturePort: 12345\nunknownKey: ignored\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	o, err := LoadFile(Default(), path)
	require.NoError(t, err)

	require.Equal(t, "eth1", o.Interface)
	require.Equal(t, 12345, o.CapturePort)
	require.Equal(t, 8989, o.LocalPort) // untouched default survives
}

func TestParseFlagsOverridesFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pulsewatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("capturePort: 1\n"), 0o644))

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	o, err := ParseFlags(fs, []string{"-config", path, "-capture-port", "2"})
	require.NoError(t, err)

	require.Equal(t, 2, o.CapturePort) // flag wins over file
}
