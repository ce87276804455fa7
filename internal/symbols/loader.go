package symbols

import (
	"context"
	"fmt"
	"strings"
)

// Source lists symbols already known to the system, typically the bar store
type Source interface {
	Symbols(ctx context.Context) ([]string, error)
}

// Loader resolves the symbol list for a command
type Loader struct {
	source Source
}

// NewLoader creates a new symbol loader. source may be nil.
func NewLoader(source Source) *Loader {
	return &Loader{source: source}
}

// Resolve picks symbols in order of precedence: an explicit comma separated
// list, then a named universe, then every symbol in the source.
func (l *Loader) Resolve(ctx context.Context, list string, universe string) ([]string, error) {
	if strings.TrimSpace(list) != "" {
		return Parse(list)
	}
	if universe != "" {
		return GetUniverse(Universe(strings.ToLower(universe)))
	}
	if l.source == nil {
		return nil, fmt.Errorf("no symbols given and no symbol source configured")
	}
	syms, err := l.source.Symbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading symbols: %w", err)
	}
	if len(syms) == 0 {
		return nil, fmt.Errorf("no symbols stored yet, run ingest first")
	}
	return syms, nil
}

// Parse splits a comma separated list, normalises case, strips exchange
// suffixes and drops duplicates
func Parse(list string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, raw := range strings.Split(list, ",") {
		sym := Normalize(raw)
		if sym == "" {
			continue
		}
		if !IsValidSymbol(sym) {
			return nil, fmt.Errorf("invalid symbol %q", raw)
		}
		if seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty symbol list")
	}
	return out, nil
}

// Normalize upper-cases a symbol and removes a Yahoo style .NS or .BO suffix
func Normalize(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, ".NS")
	s = strings.TrimSuffix(s, ".BO")
	return s
}

// IsValidSymbol checks an NSE/BSE ticker: letters, digits, '&' and '-'
func IsValidSymbol(symbol string) bool {
	if len(symbol) == 0 || len(symbol) > 20 {
		return false
	}
	for _, c := range symbol {
		switch {
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '&', c == '-':
		default:
			return false
		}
	}
	return true
}
