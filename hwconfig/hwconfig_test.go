package hwconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultMatchesSpecReference(t *testing.T) {
	cfg := Default()
	if cfg.CXLBandwidthGBps != 52.5 {
		t.Errorf("CXLBandwidthGBps = %v, want 52.5", cfg.CXLBandwidthGBps)
	}
	if cfg.DRAMBandwidthGBps != 186 {
		t.Errorf("DRAMBandwidthGBps = %v, want 186", cfg.DRAMBandwidthGBps)
	}
	if cfg.ChunkBytes != 4<<20 {
		t.Errorf("ChunkBytes = %v, want 4MiB", cfg.ChunkBytes)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("expected defaults for missing file")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hw.yaml")
	body := "cxlBandwidthGBps: 10\nchunkBytes: 1048576\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CXLBandwidthGBps != 10 {
		t.Errorf("CXLBandwidthGBps = %v, want 10", cfg.CXLBandwidthGBps)
	}
	if cfg.ChunkBytes != 1<<20 {
		t.Errorf("ChunkBytes = %v, want 1MiB", cfg.ChunkBytes)
	}
	// unrelated defaults remain untouched
	if cfg.DRAMBandwidthGBps != 186 {
		t.Errorf("DRAMBandwidthGBps = %v, want untouched default 186", cfg.DRAMBandwidthGBps)
	}
}
