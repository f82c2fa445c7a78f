// Package scaffold lays out a fresh working directory: a commented
// edoagree.yml, a .env template, the templates/ and logs/ directories and
// an .mcp.json entry for the registry tools.
package scaffold

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

//go:embed files/*
var files embed.FS

// installed maps embedded files to their names in the working directory.
var installed = []struct{ src, dest string }{
	{"files/edoagree.yml", "edoagree.yml"},
	{"files/env.example", ".env.example"},
}

// mcpConfig represents the structure of a .mcp.json file.
type mcpConfig struct {
	MCPServers map[string]json.RawMessage `json:"mcpServers"`
}

// Init writes the scaffold into dir. Existing files are kept unless force
// is set. Progress lines go to out.
func Init(dir string, force bool, out io.Writer) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return err
	}

	for _, f := range installed {
		dest := filepath.Join(abs, f.dest)
		if !force {
			if _, err := os.Stat(dest); err == nil {
				fmt.Fprintf(out, "  skipped %s (exists, use --force to overwrite)\n", f.dest)
				continue
			}
		}
		data, err := files.ReadFile(f.src)
		if err != nil {
			return fmt.Errorf("reading embedded %s: %w", f.src, err)
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", dest, err)
		}
		fmt.Fprintf(out, "  created %s\n", f.dest)
	}

	for _, d := range []string{"templates", "logs"} {
		if err := os.MkdirAll(filepath.Join(abs, d), 0o755); err != nil {
			return err
		}
	}

	return mergeMCPConfig(filepath.Join(abs, ".mcp.json"), abs, force, out)
}

// mergeMCPConfig creates or merges the edoagree entry into .mcp.json.
func mergeMCPConfig(mcpPath, dir string, force bool, out io.Writer) error {
	var cfg mcpConfig

	data, err := os.ReadFile(mcpPath)
	if err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", mcpPath, err)
		}
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = make(map[string]json.RawMessage)
	}

	if _, exists := cfg.MCPServers["edoagree"]; exists && !force {
		fmt.Fprintln(out, "  skipped .mcp.json edoagree entry (exists, use --force to overwrite)")
		return nil
	}

	entry, err := json.Marshal(map[string]any{
		"type":    "stdio",
		"command": "edoagree",
		"args":    []string{"serve-mcp", "--dir", dir},
	})
	if err != nil {
		return err
	}
	cfg.MCPServers["edoagree"] = entry

	encoded, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling .mcp.json: %w", err)
	}
	if err := os.WriteFile(mcpPath, append(encoded, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", mcpPath, err)
	}

	action := "created"
	if data != nil {
		action = "updated"
	}
	fmt.Fprintf(out, "  %s .mcp.json with the registry MCP server\n", action)
	return nil
}
