package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/sehir-simulator/model"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.With(String("component", "engine")).Debug(context.Background(), "step committed",
		Int("step", 3), Duration("elapsed", 1500*time.Microsecond), Err(errors.New("boom")))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "step committed" || entry["component"] != "engine" || entry["error"] != "boom" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if entry["step"].(float64) != 3 || entry["elapsed"] != "1.5ms" {
		t.Fatalf("unexpected step/elapsed in %v", entry)
	}
}

func TestCountsGroupsByCompartment(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Format: "json", Output: &buf})
	var c model.Counts
	c[model.Susceptible] = 7
	c[model.Resistant] = 3
	log.Info(context.Background(), "run complete", Counts(c))

	var entry struct {
		Counts map[string]int `json:"counts"`
	}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if len(entry.Counts) != len(model.Compartments) {
		t.Fatalf("counts group has %d keys, want %d: %v", len(entry.Counts), len(model.Compartments), entry.Counts)
	}
	if entry.Counts[model.Susceptible.String()] != 7 || entry.Counts[model.Resistant.String()] != 3 {
		t.Fatalf("unexpected counts group %v", entry.Counts)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})
	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("level filtering failed: %q", out)
	}
}

func TestEnsureRunIDIsStable(t *testing.T) {
	ctx, id := EnsureRunID(context.Background())
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("run id %q is not a UUID: %v", id, err)
	}
	ctx2, id2 := EnsureRunID(ctx)
	if id2 != id || RunIDFromContext(ctx2) != id {
		t.Fatalf("EnsureRunID replaced existing id %q with %q", id, id2)
	}
}

func TestWithRunLoggerAnnotates(t *testing.T) {
	var buf bytes.Buffer
	ctx := ContextWithRunID(context.Background(), "run-1")
	_, log := WithRunLogger(ctx, New(Config{Format: "json", Output: &buf}))
	log.Info(ctx, "seeded")
	if !strings.Contains(buf.String(), `"run_id":"run-1"`) {
		t.Fatalf("run_id missing: %q", buf.String())
	}
}

func TestFromContextPrefersScopedLogger(t *testing.T) {
	var base, scoped bytes.Buffer
	fallback := New(Config{Output: &base})

	FromContext(context.Background(), fallback).Info(context.Background(), "unscoped")
	if !strings.Contains(base.String(), "unscoped") {
		t.Fatalf("fallback not used on empty context: %q", base.String())
	}

	ctx := ContextWithLogger(context.Background(), New(Config{Output: &scoped}).With(Int("tick", 4)))
	FromContext(ctx, fallback).Info(ctx, "scoped")
	if strings.Contains(base.String(), "msg=scoped") || !strings.Contains(scoped.String(), "tick=4") {
		t.Fatalf("scoped logger not used: base=%q scoped=%q", base.String(), scoped.String())
	}

	if FromContext(context.Background(), nil) == nil {
		t.Fatalf("nil fallback should yield a noop logger")
	}
	if FromContext(ContextWithLogger(context.Background(), nil), nil) == nil {
		t.Fatalf("ContextWithLogger(nil) should store a noop logger")
	}
}
