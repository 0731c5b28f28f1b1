package genai

import (
	"context"
	"errors"
	"testing"
)

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Fatal("expected error when no API key is configured")
	}
}

func TestNewClientDefaultsModel(t *testing.T) {
	c, err := NewClient(WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.model != DefaultModel {
		t.Errorf("expected default model %s, got %s", DefaultModel, c.model)
	}

	c, err = NewClient(WithAPIKey("test-key"), WithModel("gpt-4o"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.model != "gpt-4o" {
		t.Errorf("expected configured model, got %s", c.model)
	}
}

func TestMockClientStreamChunks(t *testing.T) {
	mock := &MockClient{StreamResults: []string{"hello world"}, ChunkSize: 4}

	var got string
	var fragments int
	reply, err := mock.GenerateStream(context.Background(), nil, func(delta string) {
		got += delta
		fragments++
	})
	if err != nil {
		t.Fatalf("GenerateStream failed: %v", err)
	}
	if reply != "hello world" || got != "hello world" {
		t.Errorf("expected full reply via deltas, got reply=%q deltas=%q", reply, got)
	}
	if fragments != 3 {
		t.Errorf("expected 3 fragments of size 4, got %d", fragments)
	}
}

func TestMockClientScriptedFailures(t *testing.T) {
	mock := &MockClient{StreamResults: []string{"ok"}, StreamFailures: 1}

	if _, err := mock.GenerateStream(context.Background(), nil, nil); !errors.Is(err, ErrMockUpstream) {
		t.Fatalf("expected scripted failure, got %v", err)
	}
	reply, err := mock.GenerateStream(context.Background(), nil, nil)
	if err != nil || reply != "ok" {
		t.Errorf("expected recovery after scripted failure, got %q, %v", reply, err)
	}
}
