package main

import (
	"testing"

	"manifold/internal/persistence/databases"
	"manifold/internal/ragconfig"
)

func TestDSN_BuildsPostgresURL(t *testing.T) {
	got := dsn(ragconfig.DatabaseConfig{Host: "db", Port: 5432, Name: "ragdb", User: "rag", Password: "secret"})
	want := "postgres://rag:secret@db:5432/ragdb?sslmode=disable"
	if got != want {
		t.Fatalf("dsn() = %q, want %q", got, want)
	}
}

func TestNewVectorStore_FallsBackToMemoryWhenURLUnset(t *testing.T) {
	vs, err := newVectorStore(ragconfig.VectorConfig{})
	if err != nil {
		t.Fatalf("newVectorStore: %v", err)
	}
	if _, ok := vs.(databases.VectorStore); !ok {
		t.Fatalf("expected a VectorStore")
	}
}

func TestNewEmbedder_DefaultsToDeterministic(t *testing.T) {
	e := newEmbedder(&ragconfig.Config{Embed: ragconfig.EmbedConfig{Model: ""}, Vector: ragconfig.VectorConfig{Dimension: 16}})
	if e.Dimension() != 16 {
		t.Fatalf("expected deterministic embedder with dimension 16, got dim %d", e.Dimension())
	}
}

func TestNewLLMProvider_DefaultsToOpenAI(t *testing.T) {
	p := newLLMProvider(&ragconfig.Config{Generation: ragconfig.GenerationConfig{Model: "gpt-4o-mini"}})
	if p == nil {
		t.Fatalf("expected a non-nil provider")
	}
}

func TestNewLLMProvider_SelectsAnthropicByModelName(t *testing.T) {
	p := newLLMProvider(&ragconfig.Config{Generation: ragconfig.GenerationConfig{Model: "anthropic"}})
	if p == nil {
		t.Fatalf("expected a non-nil provider")
	}
}
