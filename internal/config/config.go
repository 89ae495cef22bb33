// Package config implements the minimal, intentionally non-validating
// loader cmd/fluxgated uses to assemble registry.ResolvedSpecs: it
// decodes the three TOML file shapes spec.md §6 names (a source list,
// a sink-group route file, and a connector-defaults file) into plain
// structs with github.com/pelletier/go-toml/v2, then resolves them
// against an explicit file list — it does not implement the excluded
// workspace-discovery globbing across usecase/*/*/sink/*.d.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// SourceFileEntry is one `[[sources]]` row of a wpsrc.toml-shaped file.
type SourceFileEntry struct {
	Key     string            `toml:"key"`
	Connect string            `toml:"connect"`
	Enable  *bool             `toml:"enable"`
	Tags    []string          `toml:"tags"`
	Params  map[string]string `toml:"params"`
}

// SourcesFile is the top-level shape of a wpsrc.toml file.
type SourcesFile struct {
	Sources []SourceFileEntry `toml:"sources"`
}

// enabled reports whether this entry should be built; Enable nil
// defaults to true.
func (e SourceFileEntry) enabled() bool { return e.Enable == nil || *e.Enable }

// SinkRouteEntry is one `[[sink_group.sinks]]` row.
type SinkRouteEntry struct {
	Use          string            `toml:"use"`
	Connect      string            `toml:"connect"`
	Name         string            `toml:"name"`
	Params       map[string]string `toml:"params"`
	Tags         []string          `toml:"tags"`
	Expect       *bool             `toml:"expect"`
	Filter       string            `toml:"filter"`
	FilterExpect *bool             `toml:"filter_expect"`
}

func (e SinkRouteEntry) expect() bool { return e.Expect == nil || *e.Expect }

func (e SinkRouteEntry) filterExpect() bool {
	return e.FilterExpect == nil || *e.FilterExpect
}

// SinkGroupFile is the top-level shape of one sink route file.
type SinkGroupFile struct {
	SinkGroup SinkGroupHeader `toml:"sink_group"`
}

// SinkGroupHeader carries the group-wide settings named in spec.md §6:
// a name, optional parallelism, a mutually exclusive oml/rule routing
// pattern, optional tags, and an expect flag.
type SinkGroupHeader struct {
	Name     string           `toml:"name"`
	Parallel int              `toml:"parallel"`
	OML      string           `toml:"oml"`
	Rule     string           `toml:"rule"`
	Tags     []string         `toml:"tags"`
	Expect   *bool            `toml:"expect"`
	Sinks    []SinkRouteEntry `toml:"sinks"`
}

// ConnectorEntry is one `[[connectors]]` row: a named, reusable default
// param set a source/sink entry may reference via "connect" and
// selectively override through AllowOverride.
type ConnectorEntry struct {
	ID            string            `toml:"id"`
	Type          string            `toml:"type"`
	AllowOverride []string          `toml:"allow_override"`
	Params        map[string]string `toml:"params"`
}

// ConnectorFile is the top-level shape of a connector defaults file.
type ConnectorFile struct {
	Connectors []ConnectorEntry `toml:"connectors"`
}

// LoadSourcesFile decodes path as a SourcesFile.
func LoadSourcesFile(path string) (*SourcesFile, error) {
	var out SourcesFile
	if err := decodeFile(path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LoadSinkGroupFile decodes path as a SinkGroupFile.
func LoadSinkGroupFile(path string) (*SinkGroupFile, error) {
	var out SinkGroupFile
	if err := decodeFile(path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LoadConnectorFile decodes path as a ConnectorFile.
func LoadConnectorFile(path string) (*ConnectorFile, error) {
	var out ConnectorFile
	if err := decodeFile(path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LoadConnectors decodes every path in paths and indexes the combined
// connector set by ID; a later file's connector overwrites an earlier
// one with the same ID.
func LoadConnectors(paths []string) (map[string]ConnectorEntry, error) {
	out := make(map[string]ConnectorEntry)
	for _, p := range paths {
		f, err := LoadConnectorFile(p)
		if err != nil {
			return nil, err
		}
		for _, c := range f.Connectors {
			out[c.ID] = c
		}
	}
	return out, nil
}

func decodeFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
