package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensona/sona/internal/diagnose"
)

func TestScanCmd_TextOutputListsFilesAndSummary(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(`{}`), 0o644))

	cmd := newScanCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()

	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "json")
	assert.Contains(t, output, "scanned 1 file(s)")
}

func TestScanCmd_JSONOutputIsValid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(`{}`), 0o644))

	cmd := newScanCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir, "--json"})

	err := cmd.Execute()

	require.NoError(t, err)
	var result diagnose.Result
	require.NoError(t, json.Unmarshal(buf.Bytes(), &result))
	assert.Len(t, result.Files, 1)
}

func TestScanCmd_DefaultsToCurrentDirectory(t *testing.T) {
	cmd := newScanCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()

	require.NoError(t, err)
}

func TestScanCmd_AddedToRoot(t *testing.T) {
	rootCmd := NewRootCmd()

	scanCmd, _, err := rootCmd.Find([]string{"scan"})

	require.NoError(t, err)
	assert.Equal(t, "scan", scanCmd.Name())
}
