package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", path, err)
	}
	return string(data)
}

func TestOpenSink(t *testing.T) {
	t.Run("creates directories and flushes every line", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "out.csv")
		s, err := OpenSink(path, "a,b")
		if err != nil {
			t.Fatalf("Failed to open sink: %v", err)
		}
		defer s.Close()

		if err := s.WriteLine("1,2"); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
		if got := readFile(t, path); got != "a,b\n1,2\n" {
			t.Errorf("Expected header and row on disk before close, got %q", got)
		}
		if !s.Enabled() {
			t.Error("Expected file sink to be enabled")
		}
	})

	t.Run("truncates existing content", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out.txt")
		if err := os.WriteFile(path, []byte("stale\nstale\n"), 0644); err != nil {
			t.Fatal(err)
		}
		s, err := OpenSink(path, "")
		if err != nil {
			t.Fatalf("Failed to open sink: %v", err)
		}
		s.WriteLine("TRUST,1,900")
		s.Close()

		if got := readFile(t, path); got != "TRUST,1,900\n" {
			t.Errorf("Expected truncated file, got %q", got)
		}
	})

	t.Run("empty path discards", func(t *testing.T) {
		s, err := OpenSink("", MetricsHeader)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if s.Enabled() {
			t.Error("Expected discard sink to be disabled")
		}
		if err := s.WriteLine("ignored"); err != nil {
			t.Errorf("Expected discard write to succeed, got %v", err)
		}
	})
}

func TestOpenSinks(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Output = filepath.Join(dir, "trust.txt")
	cfg.MetricsOut = filepath.Join(dir, "metrics.csv")
	cfg.BlacklistOut = ""
	cfg.ExposureOut = filepath.Join(dir, "exposure.csv")

	sinks, err := OpenSinks(cfg)
	if err != nil {
		t.Fatalf("Failed to open sinks: %v", err)
	}

	if !sinks.Trust.Enabled() || !sinks.Metrics.Enabled() || !sinks.Exposure.Enabled() {
		t.Error("Expected configured sinks to be enabled")
	}
	if sinks.Blacklist.Enabled() || sinks.Stats.Enabled() || sinks.Parent.Enabled() || sinks.Summary.Enabled() {
		t.Error("Expected unconfigured sinks to be disabled")
	}

	if err := sinks.Close(); err != nil {
		t.Fatalf("Failed to close sinks: %v", err)
	}
	if err := sinks.Close(); err != nil {
		t.Errorf("Expected second close to be a no-op, got %v", err)
	}

	if got := readFile(t, cfg.MetricsOut); got != MetricsHeader+"\n" {
		t.Errorf("Expected metrics header only, got %q", got)
	}
	if got := readFile(t, cfg.ExposureOut); got != ExposureHeader+"\n" {
		t.Errorf("Expected exposure header only, got %q", got)
	}
	if got := readFile(t, cfg.Output); got != "" {
		t.Errorf("Expected headerless trust stream, got %q", got)
	}
}

func TestFormatters(t *testing.T) {
	up := TrustUpdate{
		Node:           2,
		DeltaSuccess:   5,
		DeltaDropped:   5,
		EWMA:           0.5,
		Bayes:          0.5,
		Beta:           0.5,
		Trust:          0,
		QuantizedTrust: 0,
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"trust update", FormatTrustUpdate(TrustUpdate{Node: 3, QuantizedTrust: 833}), "TRUST,3,833"},
		{"metrics row", FormatMetricsRow(up), "2,5,5,0.5000,0.5000,0.5000,0,0.0000"},
		{"parent row", FormatParentRow(ParentStabilityRow{Node: 1, Samples: 5, Changes: 2, SwitchRate: 0.5}), "1,5,2,0.5000"},
		{"final trust", FormatFinalTrust(4, 0.875), "TRUST_FINAL: node=4 T=0.8750"},
		{
			"exposure row",
			FormatExposureRow(ExposureSnapshot{Line: 10, TxTotal: 4, E1: 25, E1Num: 1, E1Den: 4, AttackerID: 2}),
			"10,4,0,0,0,0,25.0000,1,4,0.0000,0,0,2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, tt.got)
			}
		})
	}

	t.Run("stats row matches header arity", func(t *testing.T) {
		row := FormatStatsRow(ExposureSnapshot{}, 0.25)
		if got, want := strings.Count(row, ","), strings.Count(StatsHeader, ","); got != want {
			t.Errorf("Expected %d separators, got %d", want, got)
		}
		if !strings.HasSuffix(row, ",0.2500") {
			t.Errorf("Expected switch rate as last column, got %q", row)
		}
	})
}
