package log

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestSharedSingleton(t *testing.T) {
	first := Shared()
	second := Shared()

	if first != second {
		t.Fatalf("expected singleton logger instance")
	}

	if err := Sync(); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
}

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { _ = SetLevel("info") })

	if err := SetLevel("debug"); err != nil {
		t.Fatalf("set level: %v", err)
	}
	if Level() != "debug" {
		t.Fatalf("expected debug level, got %s", Level())
	}
	if !Shared().Desugar().Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected shared logger to honour debug level")
	}
}

func TestSetLevelRejectsUnknown(t *testing.T) {
	if err := SetLevel("chatty"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestSetLevelIgnoresEmpty(t *testing.T) {
	before := Level()
	if err := SetLevel("  "); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if Level() != before {
		t.Fatalf("expected level unchanged, got %s", Level())
	}
}
