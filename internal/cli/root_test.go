package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "sovereign", cmd.Use)
	assert.Contains(t, cmd.Long, "local-first")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{
		"add", "list", "delete", "export", "import",
		"stats", "clear", "boundary", "status", "search", "threads",
	}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	dbFlag := cmd.PersistentFlags().Lookup("db")
	require.NotNil(t, dbFlag)
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))
	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "invalid", "stats"})
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

// run executes a fresh root command against the given database.
func run(t *testing.T, db string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(append([]string{"--db", db}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestAddListDeleteFlow(t *testing.T) {
	db := filepath.Join(t.TempDir(), "journal.db")

	out, err := run(t, db, "add", "first thought of the day", "--tag", "morning")
	require.NoError(t, err)
	assert.Contains(t, out, "added ")
	id := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(out), "added "))

	out, err = run(t, db, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "first thought of the day")
	assert.Contains(t, out, "[sovereign]")

	_, err = run(t, db, "delete", id)
	require.NoError(t, err)

	out, err = run(t, db, "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "first thought of the day")
}

func TestStatsJSONOutput(t *testing.T) {
	db := filepath.Join(t.TempDir(), "journal.db")
	_, err := run(t, db, "add", "something")
	require.NoError(t, err)

	out, err := run(t, db, "--format", "json", "stats")
	require.NoError(t, err)

	var stats struct {
		Reflections int64 `json:"reflections"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, int64(1), stats.Reflections)
}

func TestExportImportFlow(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.db")
	dst := filepath.Join(dir, "dst.db")
	snapshot := filepath.Join(dir, "snapshot.json")

	_, err := run(t, src, "add", "portable thought")
	require.NoError(t, err)

	_, err = run(t, src, "export", "-o", snapshot)
	require.NoError(t, err)

	out, err := run(t, dst, "import", snapshot)
	require.NoError(t, err)
	assert.Contains(t, out, "added 1")

	// Re-import is a no-op.
	out, err = run(t, dst, "import", snapshot)
	require.NoError(t, err)
	assert.Contains(t, out, "skipped 1")

	out, err = run(t, dst, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "portable thought")
}

func TestBoundaryFlow(t *testing.T) {
	db := filepath.Join(t.TempDir(), "journal.db")

	out, err := run(t, db, "boundary", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "sovereign")
	assert.NotContains(t, out, "open")

	_, err = run(t, db, "boundary", "set", "commons", "true")
	require.NoError(t, err)

	out, err = run(t, db, "boundary", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "commons   open")

	_, err = run(t, db, "boundary", "set", "ether", "true")
	require.Error(t, err)
}

func TestStatusCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "journal.db")

	_, err := run(t, db, "boundary", "set", "commons", "true")
	require.NoError(t, err)

	out, err := run(t, db, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "commons")
	assert.Contains(t, out, "open")
	assert.Contains(t, out, "offline")
	assert.NotContains(t, out, "conflicted")
}

func TestSearchCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "journal.db")
	_, err := run(t, db, "add", "I want to grow")
	require.NoError(t, err)

	out, err := run(t, db, "search", "want")
	require.NoError(t, err)
	assert.Contains(t, out, "1 match(es)")
	assert.Contains(t, out, "[want]")

	out, err = run(t, db, "search", "absent")
	require.NoError(t, err)
	assert.Contains(t, out, "no matches")
}

func TestThreadsSuggestAndDismiss(t *testing.T) {
	db := filepath.Join(t.TempDir(), "journal.db")
	for i := 0; i < 5; i++ {
		_, err := run(t, db, "add", "note for the cluster")
		require.NoError(t, err)
	}

	out, err := run(t, db, "threads", "suggest")
	require.NoError(t, err)
	assert.Contains(t, out, "confidence")

	_, err = run(t, db, "threads", "dismiss")
	require.NoError(t, err)

	out, err = run(t, db, "threads", "suggest")
	require.NoError(t, err)
	assert.Contains(t, out, "no suggestions")
}

func TestClearRequiresConfirmation(t *testing.T) {
	db := filepath.Join(t.TempDir(), "journal.db")
	_, err := run(t, db, "add", "precious")
	require.NoError(t, err)

	_, err = run(t, db, "clear")
	require.Error(t, err)

	_, err = run(t, db, "clear", "--yes")
	require.NoError(t, err)

	out, err := run(t, db, "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "precious")
}
