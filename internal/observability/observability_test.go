package observability

import (
	"context"
	"testing"
)

func TestInit_Disabled(t *testing.T) {
	if err := Init(Config{Enabled: false}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	err := Init(Config{Enabled: true, ExporterType: "jaegerish"})
	if err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestInit_Stdout(t *testing.T) {
	if err := Init(Config{Enabled: true, ExporterType: "stdout"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
}

func TestParseHeaders(t *testing.T) {
	headers := parseHeaders("Authorization=Bearer abc, X-Env=staging")
	if headers["Authorization"] != "Bearer abc" {
		t.Errorf("unexpected auth header: %q", headers["Authorization"])
	}
	if headers["X-Env"] != "staging" {
		t.Errorf("unexpected env header: %q", headers["X-Env"])
	}
	if parseHeaders("") != nil {
		t.Error("expected nil for empty input")
	}
}
