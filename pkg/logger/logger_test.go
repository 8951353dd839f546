package logger

import (
	"context"
	"testing"
)

func TestLoggerInit(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}

	logger := Get()
	if logger == nil {
		t.Fatal("logger is nil after initialization")
	}

	// Re-initialization must be safe.
	if err := Init(); err != nil {
		t.Fatalf("failed to re-initialize logger: %v", err)
	}
	if Get() == nil {
		t.Fatal("logger is nil after re-initialization")
	}
}

func TestLoggerBasic(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}

	ctx := context.Background()
	logger := Get()
	logger.Info(ctx, "test message", String("k", "v"))
	logger.Warn(ctx, "warn message", Int("n", 1))
	logger.Debug(ctx, "debug message", Float64("f", 1.5))
	logger.Error(ctx, "error message", Any("x", struct{}{}))

	named := Named("detector")
	if named == nil {
		t.Fatal("expected named logger")
	}
	named.Info(ctx, "named message")
}

func TestSetLevelString(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}

	for _, lvl := range []string{"debug", "info", "warn", "warning", "error", ""} {
		if err := SetLevelString(lvl); err != nil {
			t.Errorf("SetLevelString(%q) failed: %v", lvl, err)
		}
	}
	if err := SetLevelString("bogus"); err == nil {
		t.Error("expected error for unknown level")
	}
}
