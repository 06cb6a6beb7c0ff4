package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/tidwall/jsonc"
)

// serversFile is the common "mcpServers" document used by desktop MCP
// clients, authored as JSONC.
type serversFile struct {
	MCPServers map[string]MCPServer `json:"mcpServers"`
}

// ParseServers strips JSONC comments and trailing commas from data and
// decodes the mcpServers map, sorted by name.
func ParseServers(data []byte) ([]MCPServer, error) {
	stripped := jsonc.ToJSON(data)

	var f serversFile
	if err := json.Unmarshal(stripped, &f); err != nil {
		return nil, fmt.Errorf("parsing mcpServers: %w", err)
	}
	names := make([]string, 0, len(f.MCPServers))
	for name := range f.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]MCPServer, 0, len(names))
	for _, name := range names {
		s := f.MCPServers[name]
		s.Name = name
		out = append(out, s)
	}
	return out, nil
}

// LoadServersFile reads and parses a JSONC mcpServers file.
func LoadServersFile(path string) ([]MCPServer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	servers, err := ParseServers(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return servers, nil
}
