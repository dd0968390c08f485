// Package watchlist supplies the coordinator's externally-maintained symbol
// universe, adapted from the teacher's internal/universe YAML-config
// pattern (Symbol list + simple metadata) down to the one field the
// scanner actually needs.
package watchlist

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Doc is the on-disk YAML shape: a flat list of symbols to scan each tick.
type Doc struct {
	Symbols []string `yaml:"symbols"`
}

// Static serves a fixed symbol list loaded once at startup. The teacher
// rebuilds its universe from exchange metadata on a schedule; equities
// symbol membership changes far less often, so a single load at process
// start is sufficient here.
type Static struct {
	symbols []string
}

// Load reads a watchlist YAML document from path.
func Load(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read watchlist: %w", err)
	}
	var doc Doc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse watchlist: %w", err)
	}
	if len(doc.Symbols) == 0 {
		return nil, fmt.Errorf("watchlist %s contains no symbols", path)
	}
	return &Static{symbols: doc.Symbols}, nil
}

// New wraps an in-memory symbol list, for tests and programmatic wiring.
func New(symbols []string) *Static {
	return &Static{symbols: symbols}
}

// Symbols implements coordinator.Watchlist.
func (s *Static) Symbols(ctx context.Context) ([]string, error) {
	return s.symbols, nil
}
