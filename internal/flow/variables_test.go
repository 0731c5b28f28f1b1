package flow

import "testing"

func TestResolveVariables(t *testing.T) {
	vars := map[string]string{"name": "Alex", "product": "widgets"}

	got := ResolveVariables("Hi {{name}}, how are the {{product}}?", vars)
	if got != "Hi Alex, how are the widgets?" {
		t.Errorf("unexpected resolution: %q", got)
	}

	// Unmatched keys stay literal.
	got = ResolveVariables("Hi {{name}}, code {{code}} pending.", vars)
	if got != "Hi Alex, code {{code}} pending." {
		t.Errorf("expected unmatched key left literal, got %q", got)
	}

	// No markers returns input unchanged.
	plain := "No markers here."
	if got := ResolveVariables(plain, vars); got != plain {
		t.Errorf("expected input unchanged, got %q", got)
	}

	// Empty vars map leaves all markers literal.
	withMarker := "Hello {{name}}"
	if got := ResolveVariables(withMarker, nil); got != withMarker {
		t.Errorf("expected markers untouched with nil vars, got %q", got)
	}
}

func TestResolveVariablesIdempotent(t *testing.T) {
	vars := map[string]string{"name": "Alex"}
	text := "Hi {{name}}, code {{code}} pending."

	once := ResolveVariables(text, vars)
	twice := ResolveVariables(once, vars)
	if once != twice {
		t.Errorf("resolution not idempotent: %q vs %q", once, twice)
	}
}
