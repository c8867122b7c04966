// Package catalog holds the declarative strategy definitions available to a run.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/atlas-desktop/strategy-verdict/internal/rules"
	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned for an unknown strategy id
var ErrNotFound = errors.New("strategy not found")

// Registry manages available strategies.
type Registry struct {
	logger     *zap.Logger
	strategies map[string]types.Strategy
	mu         sync.RWMutex
}

// NewRegistry creates a registry preloaded with the built-in strategies.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		logger:     logger,
		strategies: make(map[string]types.Strategy),
	}
	for _, s := range Builtin() {
		if err := r.Register(s); err != nil {
			logger.Error("Invalid built-in strategy", zap.String("strategy", s.ID), zap.Error(err))
		}
	}
	return r
}

// Register validates and adds or replaces a strategy.
func (r *Registry) Register(s types.Strategy) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := rules.Validate(s.Entry); err != nil {
		return fmt.Errorf("strategy %s entry: %w", s.ID, err)
	}
	if err := rules.Validate(s.Exit); err != nil {
		return fmt.Errorf("strategy %s exit: %w", s.ID, err)
	}
	if s.Direction == "" {
		s.Direction = types.PositionSideLong
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.ID] = s
	return nil
}

// Get returns a strategy by id.
func (r *Registry) Get(id string) (types.Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[id]
	if !ok {
		return types.Strategy{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return s, nil
}

// Select resolves ids in order; an empty list selects every strategy.
func (r *Registry) Select(ids []string) ([]types.Strategy, error) {
	if len(ids) == 0 {
		return r.List(), nil
	}
	out := make([]types.Strategy, 0, len(ids))
	for _, id := range ids {
		s, err := r.Get(strings.TrimSpace(id))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// List returns all strategies sorted by id.
func (r *Registry) List() []types.Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered strategies.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.strategies)
}

type catalogFile struct {
	Strategies []types.Strategy `yaml:"strategies"`
}

// LoadFile registers every strategy in a YAML file and returns how many were
// added. The file holds either a list under "strategies" or a single strategy.
func (r *Registry) LoadFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return 0, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	if len(file.Strategies) == 0 {
		var single types.Strategy
		if err := yaml.Unmarshal(raw, &single); err != nil {
			return 0, fmt.Errorf("failed to parse catalog %s: %w", path, err)
		}
		if single.ID != "" {
			file.Strategies = []types.Strategy{single}
		}
	}

	for i, s := range file.Strategies {
		if err := r.Register(s); err != nil {
			return i, fmt.Errorf("%s: %w", path, err)
		}
	}

	r.logger.Info("Loaded strategy catalog",
		zap.String("path", path),
		zap.Int("strategies", len(file.Strategies)),
	)
	return len(file.Strategies), nil
}

// LoadDir loads every *.yaml and *.yml file in dir. A missing dir is not an error.
func (r *Registry) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read catalog dir: %w", err)
	}

	total := 0
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		n, err := r.LoadFile(filepath.Join(dir, e.Name()))
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
