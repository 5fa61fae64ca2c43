package config

import (
	"os"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.IOThreads != 1 {
		t.Errorf("Expected 1 io thread, got %d", cfg.IOThreads)
	}
	if cfg.SndHWM != 1000 || cfg.RcvHWM != 1000 {
		t.Errorf("Expected default water marks 1000/1000, got %d/%d", cfg.SndHWM, cfg.RcvHWM)
	}
	if cfg.MaxMsgSize != -1 {
		t.Errorf("Expected unlimited message size, got %d", cfg.MaxMsgSize)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	os.Setenv("COURIER_IO_THREADS", "4")
	os.Setenv("COURIER_SNDHWM", "250")
	defer os.Unsetenv("COURIER_IO_THREADS")
	defer os.Unsetenv("COURIER_SNDHWM")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.IOThreads != 4 {
		t.Errorf("Expected 4 io threads, got %d", cfg.IOThreads)
	}
	if cfg.SndHWM != 250 {
		t.Errorf("Expected SndHWM 250, got %d", cfg.SndHWM)
	}
	if cfg.RcvHWM != 1000 {
		t.Errorf("Expected default RcvHWM, got %d", cfg.RcvHWM)
	}
}

func TestOptionsFrom(t *testing.T) {
	cfg := Default()
	cfg.SndHWM = 42
	opts := OptionsFrom(cfg)

	if opts.SndHWM != 42 {
		t.Errorf("Expected SndHWM 42, got %d", opts.SndHWM)
	}
	if opts.Linger >= 0 {
		t.Error("Expected infinite linger by default")
	}
	if opts.SndTimeo >= 0 || opts.RcvTimeo >= 0 {
		t.Error("Expected blocking timeouts by default")
	}
	if opts.ReconnectIvl != 100*time.Millisecond {
		t.Errorf("Expected 100ms reconnect interval, got %v", opts.ReconnectIvl)
	}
	if !opts.ZeroCopy {
		t.Error("Expected zero-copy receive enabled by default")
	}
}
