package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/skuscan/internal/config"
	"github.com/andresmejia3/skuscan/internal/sku"
	"github.com/andresmejia3/skuscan/internal/store"
	"github.com/spf13/pflag"
)

func TestResolveDBURL(t *testing.T) {
	for _, k := range []string{"POSTGRES_HOST", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB", "POSTGRES_PORT"} {
		t.Setenv(k, "")
	}

	if got := resolveDBURL("postgres://flag/db", false); got != "postgres://flag/db" {
		t.Errorf("flag should win, got %q", got)
	}
	if got := resolveDBURL("", false); got != "" {
		t.Errorf("no source without fallback should be empty, got %q", got)
	}
	if got := resolveDBURL("", true); got != defaultDBURL {
		t.Errorf("fallback = %q, want %q", got, defaultDBURL)
	}

	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "user")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	want := "postgres://user:secret@db:5432/skuscan"
	if got := resolveDBURL("", false); got != want {
		t.Errorf("env = %q, want %q", got, want)
	}
}

// runFlags parses args with the run command's flag definitions.
func runFlags(t *testing.T, args ...string) (*pflag.FlagSet, Options) {
	t.Helper()
	var opts Options
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fs.StringVarP(&opts.ConfigPath, "config", "c", "", "")
	fs.IntVarP(&opts.SkipFrames, "skip", "k", 5, "")
	fs.IntVarP(&opts.QueueCapacity, "queue", "q", 10, "")
	fs.StringVarP(&opts.Backend, "backend", "b", config.BackendPython, "")
	fs.StringVarP(&opts.Model, "model", "m", "best.pt", "")
	fs.BoolVar(&opts.Realtime, "realtime", true, "")
	fs.StringVarP(&opts.PreviewPath, "preview", "p", "", "")
	fs.StringVar(&opts.LogFile, "log-file", "", "")
	if err := fs.Parse(args); err != nil {
		t.Fatal(err)
	}
	return fs, opts
}

func TestLoadRunConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skuscan.yaml")
	body := `
pipeline:
  skip_frames: 3
  queue_capacity: 4
detector:
  model: shelf.pt
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	fs, opts := runFlags(t, "-c", path, "-k", "8", "--realtime=false")
	cfg, err := loadRunConfig(fs, opts)
	if err != nil {
		t.Fatalf("loadRunConfig: %v", err)
	}
	if cfg.Pipeline.SkipFrames != 8 {
		t.Errorf("SkipFrames = %d, want flag value 8", cfg.Pipeline.SkipFrames)
	}
	if cfg.Pipeline.QueueCapacity != 4 {
		t.Errorf("QueueCapacity = %d, want file value 4", cfg.Pipeline.QueueCapacity)
	}
	if cfg.Detector.Model != "shelf.pt" {
		t.Errorf("Model = %q, unset flag must not override the file", cfg.Detector.Model)
	}
	if cfg.Pipeline.Realtime {
		t.Error("Realtime should be disabled by the flag")
	}
}

func TestLoadRunConfigRejectsInvalidFlags(t *testing.T) {
	fs, opts := runFlags(t, "-k", "0")
	if _, err := loadRunConfig(fs, opts); err == nil {
		t.Error("expected error for skip 0")
	}
	fs, opts = runFlags(t, "--backend", "tensorrt")
	if _, err := loadRunConfig(fs, opts); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestBuildMappingConfigOverridesDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.Skus = map[string]int{"yogurt": 2999, "juice": 3101}

	m, err := buildMapping(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	tests := map[string]int{"wraps": 1601, "yogurt": 2999, "juice": 3101}
	for label, want := range tests {
		if got, ok := m.Lookup(label); !ok || got != want {
			t.Errorf("Lookup(%q) = %d, %v; want %d", label, got, ok, want)
		}
	}

	cfg.Skus = map[string]int{"bad": -1}
	if _, err := buildMapping(context.Background(), cfg, nil); err == nil {
		t.Error("expected error for negative code")
	}
}

func TestValidateRunFlags(t *testing.T) {
	// Create a temp file for valid input
	tmpFile, err := os.CreateTemp("", "video.mp4")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.Close()

	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"Valid input", Options{InputPath: tmpFile.Name()}, false},
		{"Dashboard without input", Options{}, false},
		{"Headless without input", Options{Headless: true}, true},
		{"Input file does not exist", Options{InputPath: "nonexistent.mp4"}, true},
		{"Input is directory", Options{InputPath: tmpDir}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Redirect stderr to discard output during this specific sub-test
			oldStderr := os.Stderr
			r, w, _ := os.Pipe()
			os.Stderr = w

			err := validateRunFlags(&tt.opts)

			// Restore stderr and close the pipe
			w.Close()
			os.Stderr = oldStderr
			r.Close()

			if (err != nil) != tt.wantErr {
				t.Errorf("validateRunFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPrintSkusMarksSource(t *testing.T) {
	builtin, _ := sku.FromMap(map[string]int{"wraps": 1601, "salads": 1101})
	stored := []store.SkuCode{
		{Label: "salads", Code: 1199, UpdatedAt: time.Now()},
		{Label: "juice", Code: 3101, UpdatedAt: time.Now()},
	}

	var out bytes.Buffer
	printSkus(&out, builtin, stored)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected header, rule and 3 rows, got %d lines:\n%s", len(lines), out.String())
	}
	want := []struct{ label, code, source string }{
		{"juice", "3101", "database"},
		{"salads", "1199", "database"},
		{"wraps", "1601", "built-in"},
	}
	for i, w := range want {
		fields := strings.Fields(lines[i+2])
		if fields[0] != w.label || fields[1] != w.code || fields[2] != w.source {
			t.Errorf("row %d = %v, want %v", i, fields[:3], w)
		}
	}
}

func TestFmtDuration(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00:00"},
		{65, "00:01:05"},
		{3661, "01:01:01"},
		{-3, "00:00:00"},
	}

	for _, tt := range tests {
		if got := fmtDuration(tt.seconds); got != tt.want {
			t.Errorf("fmtDuration(%v) = %v, want %v", tt.seconds, got, tt.want)
		}
	}
}

func TestPreviewPath(t *testing.T) {
	if got, _ := previewPath("flag.jpg", "missing.yaml"); got != "flag.jpg" {
		t.Errorf("flag should win, got %q", got)
	}
	path := filepath.Join(t.TempDir(), "c.yaml")
	os.WriteFile(path, []byte("display:\n  preview_path: /tmp/latest.jpg\n"), 0o644)
	if got, err := previewPath("", path); err != nil || got != "/tmp/latest.jpg" {
		t.Errorf("previewPath = %q, %v", got, err)
	}
	if got, _ := previewPath("", ""); got != "" {
		t.Errorf("expected empty path, got %q", got)
	}
}
