package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"EMBEDDING_DIM", "MATCH_THRESHOLD", "MIN_FACE_HEIGHT_RATIO", "MATCH_INDEX_MIN_TEMPLATES", "TEMPLATE_RELOAD_INTERVAL", "CAPTURE_FRAME_INTERVAL", "REPROCESS_INTERVAL", "CAPTURE_REJECT_REBIND", "WEB_PORT"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Embedding.Dim != 512 {
		t.Errorf("expected embedding dim 512, got %d", cfg.Embedding.Dim)
	}
	if cfg.Matching.Threshold != 0.6 {
		t.Errorf("expected threshold 0.6, got %f", cfg.Matching.Threshold)
	}
	if cfg.Matching.MinFaceHeightRatio != 0.2 {
		t.Errorf("expected min face height ratio 0.2, got %f", cfg.Matching.MinFaceHeightRatio)
	}
	if cfg.Matching.IndexMinTemplates != 50000 {
		t.Errorf("expected index threshold 50000, got %d", cfg.Matching.IndexMinTemplates)
	}
	if cfg.Matching.ReloadInterval != 5*time.Minute {
		t.Errorf("expected template reload interval 5m, got %s", cfg.Matching.ReloadInterval)
	}
	if cfg.Reprocess.Interval != time.Minute {
		t.Errorf("expected reprocess interval 1m, got %s", cfg.Reprocess.Interval)
	}
	if cfg.Capture.RejectRebind {
		t.Error("expected rebind to be allowed by default")
	}
	if cfg.Web.Addr() != "0.0.0.0:8085" {
		t.Errorf("unexpected web addr %q", cfg.Web.Addr())
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("MATCH_THRESHOLD", "0.7")
	t.Setenv("MATCH_INDEX_MIN_TEMPLATES", "100000")
	t.Setenv("CAPTURE_FRAME_INTERVAL", "1s")
	t.Setenv("CAPTURE_REJECT_REBIND", "true")
	t.Setenv("WEB_ALLOWED_ORIGINS", "http://a.example, http://b.example,")

	cfg := Load()

	if cfg.Matching.Threshold != 0.7 {
		t.Errorf("expected threshold 0.7, got %f", cfg.Matching.Threshold)
	}
	if cfg.Matching.IndexMinTemplates != 100000 {
		t.Errorf("expected index threshold 100000, got %d", cfg.Matching.IndexMinTemplates)
	}
	if cfg.Capture.FrameInterval != time.Second {
		t.Errorf("expected frame interval 1s, got %s", cfg.Capture.FrameInterval)
	}
	if !cfg.Capture.RejectRebind {
		t.Error("expected rebind rejection")
	}
	if len(cfg.Web.AllowedOrigins) != 2 || cfg.Web.AllowedOrigins[1] != "http://b.example" {
		t.Errorf("unexpected origins %v", cfg.Web.AllowedOrigins)
	}
}

func TestEnvFloat_OutOfRange(t *testing.T) {
	tests := []struct {
		value string
		want  float64
	}{
		{"", 0.6},
		{"abc", 0.6},
		{"0", 0.6},
		{"1.5", 0.6},
		{"0.45", 0.45},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_FLOAT", tt.value)
			if got := envFloat("TEST_FLOAT", 0.6); got != tt.want {
				t.Errorf("envFloat(%q) = %f, want %f", tt.value, got, tt.want)
			}
		})
	}
}

func TestMailConfig_Enabled(t *testing.T) {
	if (MailConfig{}).Enabled() {
		t.Error("empty mail config should be disabled")
	}
	if !(MailConfig{Server: "smtp.example.com"}).Enabled() {
		t.Error("mail config with server should be enabled")
	}
}

func TestLoadSeed_Embedded(t *testing.T) {
	seed, err := LoadSeed("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]string{
		"CS101":   "Computer Science 101",
		"MATH202": "Mathematics 202",
		"PHYS301": "Physics 301",
	}
	if len(seed.Courses) != len(want) {
		t.Fatalf("expected %d courses, got %d", len(want), len(seed.Courses))
	}
	for _, c := range seed.Courses {
		if want[c.Identifier] != c.Name {
			t.Errorf("course %s: got name %q", c.Identifier, c.Name)
		}
	}
}

func TestLoadSeed_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte("courses:\n  - identifier: BIO100\n    name: Biology\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	seed, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seed.Courses) != 1 || seed.Courses[0].Identifier != "BIO100" {
		t.Errorf("unexpected seed %+v", seed.Courses)
	}
}

func TestLoadSeed_MissingName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte("courses:\n  - identifier: BIO100\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadSeed(path); err == nil {
		t.Error("expected error for course without name")
	}
}
