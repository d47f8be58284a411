package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxUploadSize != 10<<20 {
		t.Errorf("MaxUploadSize = %d, want %d", cfg.MaxUploadSize, 10<<20)
	}
	if len(cfg.AllowedExtensions) != 10 {
		t.Errorf("AllowedExtensions = %v, want 10 defaults", cfg.AllowedExtensions)
	}
	if cfg.BinRetention != 30*24*time.Hour {
		t.Errorf("BinRetention = %v, want 720h", cfg.BinRetention)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FILEUPLOAD_MAX_UPLOAD_BYTES", "1048576")
	t.Setenv("FILEUPLOAD_ALLOWED_EXTENSIONS", "TXT, Pdf")
	t.Setenv("FILEUPLOAD_BIN_RETENTION", "48h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxUploadSize != 1<<20 {
		t.Errorf("MaxUploadSize = %d, want %d", cfg.MaxUploadSize, 1<<20)
	}
	// The allow-list is normalized to lowercase, trimmed values.
	if len(cfg.AllowedExtensions) != 2 || cfg.AllowedExtensions[0] != "txt" || cfg.AllowedExtensions[1] != "pdf" {
		t.Errorf("AllowedExtensions = %v, want [txt pdf]", cfg.AllowedExtensions)
	}
	if cfg.BinRetention != 48*time.Hour {
		t.Errorf("BinRetention = %v, want 48h", cfg.BinRetention)
	}
}

func TestLoadRejectsNonsense(t *testing.T) {
	t.Setenv("FILEUPLOAD_MAX_UPLOAD_BYTES", "-5")
	t.Setenv("FILEUPLOAD_WORKERS", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxUploadSize != 10<<20 {
		t.Errorf("MaxUploadSize = %d, want default after invalid input", cfg.MaxUploadSize)
	}
	if cfg.WorkerConcurrency <= 0 {
		t.Errorf("WorkerConcurrency = %d, want positive default", cfg.WorkerConcurrency)
	}
}
