package commands

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/recordkeeper/internal/actor"
	"github.com/JonMunkholm/recordkeeper/internal/document"
	"github.com/JonMunkholm/recordkeeper/internal/entity/catalog"
	"github.com/JonMunkholm/recordkeeper/internal/exchange"
)

// run executes the command tree against a fresh in-memory store.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("EXCHANGE_SCRATCH_DIR", t.TempDir())
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("SEED_ACTORS", "u-editor:editor:Eve")

	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	err := root.Execute()
	return out.String(), err
}

// ============================================================================
// schema
// ============================================================================

func TestSchema(t *testing.T) {
	// No store is opened, so an invalid driver does not matter.
	t.Setenv("STORE_DRIVER", "bogus")
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env"), "schema"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "CREATE TABLE IF NOT EXISTS audit_log (")
	assert.Contains(t, out.String(), "CREATE TABLE IF NOT EXISTS "+catalog.Documents+" (")
}

// ============================================================================
// export / verify / import
// ============================================================================

func TestExportVerifyImport(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "out.zip")

	out, err := run(t, "export", archive)
	require.NoError(t, err)
	assert.Contains(t, out, archive)
	assert.Contains(t, out, "ENTITY")
	assert.Contains(t, out, catalog.Documents)

	out, err = run(t, "verify", archive)
	require.NoError(t, err)
	assert.Contains(t, out, "OK")

	out, err = run(t, "--json", "import", "--mode", "merge", archive)
	require.NoError(t, err)
	var summary exchange.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, exchange.ModeMerge, summary.Mode)
	assert.Zero(t, summary.Total.Errors)
	assert.Empty(t, summary.Errors)
}

func TestExportJSON(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "out.zip")

	out, err := run(t, "--json", "export", "--entities", catalog.Documents, archive)
	require.NoError(t, err)

	var res exchange.ExportResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, archive, res.Path)
	assert.Len(t, res.SHA256, 64)
	assert.Equal(t, map[string]int{catalog.Documents: 0}, res.Counts)
}

func TestImportErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{
			name:    "invalid mode",
			args:    []string{"import", "--mode", "replace", "x.zip"},
			wantErr: exchange.ErrInvalidMode,
		},
		{
			name:    "missing archive",
			args:    []string{"verify", filepath.Join("no", "such", "archive.zip")},
			wantErr: exchange.ErrInvalidArchive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

// ============================================================================
// doc
// ============================================================================

func TestDocShowMissing(t *testing.T) {
	_, err := run(t, "doc", "show", "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, document.ErrMissingDocument)
}

func TestDocSignUnknownActor(t *testing.T) {
	_, err := run(t, "doc", "sign", "ghost", "--version", "1", "--actor", "nobody")
	require.Error(t, err)
	assert.ErrorIs(t, err, actor.ErrUnknownActor)
}

func TestDocSignMissingDocument(t *testing.T) {
	_, err := run(t, "doc", "sign", "ghost", "--version", "1", "--actor", "u-editor")
	require.Error(t, err)
	assert.ErrorIs(t, err, document.ErrMissingDocument)
}

func TestDocSignRequiresFlags(t *testing.T) {
	_, err := run(t, "doc", "sign", "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}
