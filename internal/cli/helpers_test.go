package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// envKeys are cleared so the host environment cannot leak into tests.
var envKeys = []string{
	"SOPSYNC_NAMESPACE",
	"SOPSYNC_BACKEND",
	"SOPSYNC_DB",
	"SOPSYNC_REDIS_URL",
	"SOPSYNC_ASSISTANT_URL",
	"SOPSYNC_ASSISTANT_MODEL",
	"SOPSYNC_ASSISTANT_KEY",
	"SOPSYNC_TEMPLATES",
	"SOPSYNC_ASSISTANT_TIMEOUT_SECONDS",
}

// testEnv is a temporary workspace: the shipped templates, a SQLite file
// and a config pointing at both.
type testEnv struct {
	dir    string
	config string
}

func newTestEnv(t *testing.T, extra string) *testEnv {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}

	templates, err := filepath.Abs(filepath.Join("..", "..", "templates"))
	require.NoError(t, err)

	dir := t.TempDir()
	body := fmt.Sprintf(`namespace: test
persistence:
  backend: sqlite
  sqlite_path: %s
templates:
  dir: %s
profile:
  organization_name: Green Acres
%s`, filepath.Join(dir, "sopsync.db"), templates, extra)

	path := filepath.Join(dir, "sopsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return &testEnv{dir: dir, config: path}
}

// run executes the root command with the env's config.
func (e *testEnv) run(args ...string) (string, error) {
	return e.runWithInput("", args...)
}

func (e *testEnv) runWithInput(stdin string, args ...string) (string, error) {
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(bytes.NewBufferString(stdin))
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// decodeData unmarshals the data member of a JSON CLIResponse into v.
func decodeData(t *testing.T, out string, v any) CLIResponse {
	t.Helper()
	var raw struct {
		CLIResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw), out)
	if v != nil {
		require.NoError(t, json.Unmarshal(raw.Data, v), out)
	}
	return raw.CLIResponse
}
