package scaffold

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/edoagree/internal/config"
)

func TestInit_FreshDirectoryLoads(t *testing.T) {
	for _, k := range []string{"FOCUS_API_KEY", "API_KEY", "OPENAI_API_KEY", "OPENAI_MODEL", "PROXY_URL", "proxy_host", "proxy_port", "EDOAGREE_PG_DSN"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	dir := t.TempDir()
	var out bytes.Buffer

	require.NoError(t, Init(dir, false, &out))
	assert.Contains(t, out.String(), "created edoagree.yml")
	assert.FileExists(t, filepath.Join(dir, ".env.example"))
	assert.DirExists(t, filepath.Join(dir, "templates"))

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Len(t, cfg.Companies, 2)
	assert.Equal(t, filepath.Join(dir, "registry.kuzu"), cfg.Registry.Path)
	assert.NoError(t, cfg.CheckTemplatesDir())
}

func TestInit_KeepsExistingFilesUnlessForced(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "edoagree.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("metrics_addr: :9464\n"), 0o644))

	var out bytes.Buffer
	require.NoError(t, Init(dir, false, &out))
	assert.Contains(t, out.String(), "skipped edoagree.yml")
	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "metrics_addr: :9464\n", string(data))

	out.Reset()
	require.NoError(t, Init(dir, true, &out))
	data, err = os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "companies:")
}

func TestInit_MergesMCPConfig(t *testing.T) {
	dir := t.TempDir()
	mcpPath := filepath.Join(dir, ".mcp.json")
	require.NoError(t, os.WriteFile(mcpPath, []byte(`{"mcpServers":{"other":{"command":"other"}}}`), 0o644))

	var out bytes.Buffer
	require.NoError(t, Init(dir, false, &out))
	assert.Contains(t, out.String(), "updated .mcp.json")

	data, err := os.ReadFile(mcpPath)
	require.NoError(t, err)
	var cfg struct {
		MCPServers map[string]struct {
			Command string   `json:"command"`
			Args    []string `json:"args"`
		} `json:"mcpServers"`
	}
	require.NoError(t, json.Unmarshal(data, &cfg))
	require.Contains(t, cfg.MCPServers, "other")
	require.Contains(t, cfg.MCPServers, "edoagree")
	abs, err := filepath.Abs(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"serve-mcp", "--dir", abs}, cfg.MCPServers["edoagree"].Args)

	out.Reset()
	require.NoError(t, Init(dir, false, &out))
	assert.Contains(t, out.String(), "skipped .mcp.json edoagree entry")
}
