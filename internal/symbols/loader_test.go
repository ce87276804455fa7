package symbols

import (
	"context"
	"errors"
	"testing"
)

type fakeSource struct {
	syms []string
	err  error
}

func (f fakeSource) Symbols(context.Context) ([]string, error) { return f.syms, f.err }

func TestParse(t *testing.T) {
	got, err := Parse(" reliance, TCS.NS ,m&m,,tcs, 500325.BO")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"RELIANCE", "TCS", "M&M", "500325"}
	if len(got) != len(want) {
		t.Fatalf("Parse = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Parse = %v, want %v", got, want)
		}
	}

	if _, err := Parse("GOOD,BAD SYMBOL"); err == nil {
		t.Error("expected error for symbol with a space")
	}
	if _, err := Parse(" , "); err == nil {
		t.Error("expected error for empty list")
	}
}

func TestResolvePrecedence(t *testing.T) {
	ctx := context.Background()
	l := NewLoader(fakeSource{syms: []string{"FROMDB"}})

	got, _ := l.Resolve(ctx, "INFY", "nifty50")
	if len(got) != 1 || got[0] != "INFY" {
		t.Errorf("explicit list should win, got %v", got)
	}

	got, _ = l.Resolve(ctx, "", "NIFTY50")
	if len(got) != 50 {
		t.Errorf("expected 50 nifty symbols, got %d", len(got))
	}

	got, _ = l.Resolve(ctx, "", "")
	if len(got) != 1 || got[0] != "FROMDB" {
		t.Errorf("expected store symbols, got %v", got)
	}

	if _, err := l.Resolve(ctx, "", "sp500"); err == nil {
		t.Error("expected unknown universe error")
	}
}

func TestResolveSourceErrors(t *testing.T) {
	ctx := context.Background()

	if _, err := NewLoader(nil).Resolve(ctx, "", ""); err == nil {
		t.Error("expected error without a source")
	}
	if _, err := NewLoader(fakeSource{err: errors.New("down")}).Resolve(ctx, "", ""); err == nil {
		t.Error("expected source error")
	}
	if _, err := NewLoader(fakeSource{}).Resolve(ctx, "", ""); err == nil {
		t.Error("expected error for empty store")
	}
}

func TestUniversesAreValid(t *testing.T) {
	for _, name := range Universes() {
		syms, err := GetUniverse(Universe(name))
		if err != nil {
			t.Fatal(err)
		}
		seen := map[string]bool{}
		for _, s := range syms {
			if !IsValidSymbol(s) {
				t.Errorf("%s: invalid symbol %q", name, s)
			}
			if seen[s] {
				t.Errorf("%s: duplicate %q", name, s)
			}
			seen[s] = true
		}
	}
}
