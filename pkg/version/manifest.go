package version

import (
	"embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed protocol/*.yaml
var manifestFS embed.FS

// Manifest describes what a protocol version defines.
type Manifest struct {
	Version      string     `yaml:"version"`
	Description  string     `yaml:"description"`
	ProtocolType int        `yaml:"protocol_type"`
	WireVersion  int        `yaml:"wire_version"`
	Operations   []OpDef    `yaml:"operations"`
	Replies      []ReplyDef `yaml:"replies"`
}

// OpDef is one request type.
type OpDef struct {
	ID        int    `yaml:"id"`
	Name      string `yaml:"name"`
	Mandatory bool   `yaml:"mandatory"`
}

// ReplyDef is one reply choice.
type ReplyDef struct {
	Choice int    `yaml:"choice"`
	Name   string `yaml:"name"`
}

var (
	cacheMu sync.RWMutex
	cache   = make(map[string]*Manifest)
)

// LoadManifest loads a manifest by version string (e.g. "1.0").
func LoadManifest(ver string) (*Manifest, error) {
	cacheMu.RLock()
	if m, ok := cache[ver]; ok {
		cacheMu.RUnlock()
		return m, nil
	}
	cacheMu.RUnlock()

	data, err := manifestFS.ReadFile("protocol/" + ver + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("protocol version %q not found: %w", ver, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %q: %w", ver, err)
	}

	cacheMu.Lock()
	cache[ver] = &m
	cacheMu.Unlock()

	return &m, nil
}

// LoadCurrent loads the manifest for the current protocol version.
func LoadCurrent() (*Manifest, error) {
	return LoadManifest(Current)
}

// Available returns the version strings of all embedded manifests.
func Available() ([]string, error) {
	entries, err := manifestFS.ReadDir("protocol")
	if err != nil {
		return nil, fmt.Errorf("reading protocol directory: %w", err)
	}

	var versions []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".yaml") {
			versions = append(versions, strings.TrimSuffix(name, ".yaml"))
		}
	}
	sort.Strings(versions)
	return versions, nil
}

// Operation looks up a request type by id.
func (m *Manifest) Operation(id int) (OpDef, bool) {
	for _, op := range m.Operations {
		if op.ID == id {
			return op, true
		}
	}
	return OpDef{}, false
}

// MandatoryOperations returns the names of the mandatory request types,
// sorted.
func (m *Manifest) MandatoryOperations() []string {
	var out []string
	for _, op := range m.Operations {
		if op.Mandatory {
			out = append(out, op.Name)
		}
	}
	sort.Strings(out)
	return out
}

// ValidationResult holds the outcome of checking an implementation
// against a manifest.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// ValidateServer checks that a server handling the request ids in
// supported covers every mandatory operation of m. Ids m does not define
// produce warnings.
func ValidateServer(m *Manifest, supported []int) ValidationResult {
	var result ValidationResult

	have := make(map[int]bool, len(supported))
	for _, id := range supported {
		have[id] = true
		if _, ok := m.Operation(id); !ok {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("operation %d is not defined by protocol %s", id, m.Version))
		}
	}

	for _, op := range m.Operations {
		if op.Mandatory && !have[op.ID] {
			result.Errors = append(result.Errors,
				fmt.Sprintf("mandatory operation %s (ID %d) not handled", op.Name, op.ID))
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}
