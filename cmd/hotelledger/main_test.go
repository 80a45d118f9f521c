package main

import (
	"context"
	"log/slog"
	"testing"
)

func TestNewLoggerLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			l := newLogger(tt.level)
			if !l.Enabled(context.Background(), tt.want) {
				t.Fatalf("level %v should be enabled", tt.want)
			}
			if tt.want > slog.LevelDebug && l.Enabled(context.Background(), tt.want-1) {
				t.Fatalf("level below %v should be disabled", tt.want)
			}
		})
	}
}

func TestOpenStore(t *testing.T) {
	old := storeFlags
	t.Cleanup(func() { storeFlags = old })

	storeFlags.driver = "memory"
	s, err := openStore(context.Background())
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	storeFlags.driver = "postgres"
	storeFlags.dsn = ""
	if _, err := openStore(context.Background()); err == nil {
		t.Fatal("expected error for postgres without dsn")
	}

	storeFlags.driver = "redis"
	if _, err := openStore(context.Background()); err == nil {
		t.Fatal("expected error for unknown store")
	}
}
