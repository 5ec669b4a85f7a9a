package thresholds

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/careops/spine/pkg/contracts"
)

// Resolution error codes.
const (
	CodeNoThresholdConfigured = "NoThresholdConfigured"
	CodeUnknownConfigVersion  = "UnknownConfigVersion"
	CodeNoEntityConfiguration = "NoEntityConfiguration"
)

// ResolutionError reports a configuration gap. The rule evaluator treats
// it as "cannot classify this signal" and routes it into unknowns; it is
// never treated as permission to ignore the signal.
type ResolutionError struct {
	Code       string
	EntityID   string
	EntityType contracts.EntityType
	Kind       contracts.SignalKind
	SubKey     string
	Version    string
}

func (e *ResolutionError) Error() string {
	switch e.Code {
	case CodeNoThresholdConfigured:
		return fmt.Sprintf("thresholds: no threshold configured for %s %s signal %s (version %s)",
			e.EntityType, e.EntityID, contracts.BandKey(e.Kind, e.SubKey), e.Version)
	case CodeUnknownConfigVersion:
		return fmt.Sprintf("thresholds: unknown config version %q", e.Version)
	case CodeNoEntityConfiguration:
		return fmt.Sprintf("thresholds: no configuration for entity type %s (version %s)", e.EntityType, e.Version)
	}
	return "thresholds: " + e.Code
}

// Registry holds published pack versions and answers resolution queries.
// Packs are immutable once registered; the registry is safe for concurrent
// readers, which is what makes the threshold cache shareable across
// parallel evaluations.
type Registry struct {
	mu    sync.RWMutex
	packs map[string]*Pack
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{packs: make(map[string]*Pack)}
}

// Register adds a pack version. Re-registering an existing version is
// rejected: published versions never change.
func (r *Registry) Register(p *Pack) error {
	if _, err := p.Semver(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.packs[p.Version]; exists {
		return fmt.Errorf("thresholds: version %s already published", p.Version)
	}
	r.packs[p.Version] = p
	return nil
}

// Versions lists registered versions in ascending semver order.
func (r *Registry) Versions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parsed := make([]*semver.Version, 0, len(r.packs))
	for _, p := range r.packs {
		parsed = append(parsed, p.semver)
	}
	sort.Sort(semver.Collection(parsed))

	out := make([]string, len(parsed))
	for i, v := range parsed {
		out[i] = v.Original()
	}
	return out
}

// Latest returns the highest registered semver version.
func (r *Registry) Latest() (string, error) {
	versions := r.Versions()
	if len(versions) == 0 {
		return "", &ResolutionError{Code: CodeUnknownConfigVersion, Version: "latest"}
	}
	return versions[len(versions)-1], nil
}

// Resolve materializes the ThresholdSet for an entity under a config
// version. An empty version resolves to the latest published pack.
// Resolution is deterministic for a fixed version and has no side effects.
func (r *Registry) Resolve(entityID string, et contracts.EntityType, version string) (contracts.ThresholdSet, error) {
	if version == "" {
		latest, err := r.Latest()
		if err != nil {
			return contracts.ThresholdSet{}, err
		}
		version = latest
	}

	r.mu.RLock()
	p, ok := r.packs[version]
	r.mu.RUnlock()
	if !ok {
		return contracts.ThresholdSet{}, &ResolutionError{Code: CodeUnknownConfigVersion, Version: version}
	}

	set, ok := p.thresholdSet(entityID, et)
	if !ok {
		return contracts.ThresholdSet{}, &ResolutionError{
			Code: CodeNoEntityConfiguration, EntityID: entityID, EntityType: et, Version: version,
		}
	}
	return set, nil
}

// LoadDir parses and registers every *.yaml pack document in dir.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("thresholds: read pack dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".yaml") || strings.HasSuffix(e.Name(), ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		doc, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("thresholds: read pack %s: %w", name, err)
		}
		p, err := ParsePack(doc)
		if err != nil {
			return fmt.Errorf("thresholds: pack %s: %w", name, err)
		}
		if err := r.Register(p); err != nil {
			return err
		}
	}
	return nil
}
