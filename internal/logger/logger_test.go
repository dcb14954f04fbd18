package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWritersFromDir(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir}
	outW, errW := cfg.Writers("myproj")
	if outW == nil || errW == nil {
		t.Fatalf("expected both writers when dir is set")
	}
	if _, err := outW.Write([]byte("hello out\n")); err != nil {
		t.Fatalf("write stdout: %v", err)
	}
	if _, err := errW.Write([]byte("hello err\n")); err != nil {
		t.Fatalf("write stderr: %v", err)
	}
	_ = outW.Close()
	_ = errW.Close()
	b, err := os.ReadFile(filepath.Join(dir, "myproj.stdout.log"))
	if err != nil || !strings.Contains(string(b), "hello out") {
		t.Fatalf("stdout log content: %q err=%v", b, err)
	}
	b, err = os.ReadFile(filepath.Join(dir, "myproj.stderr.log"))
	if err != nil || !strings.Contains(string(b), "hello err") {
		t.Fatalf("stderr log content: %q err=%v", b, err)
	}
}

func TestWritersExplicitPathsOverrideDir(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir, StdoutPath: filepath.Join(dir, "custom.log")}
	outW, _ := cfg.Writers("x")
	_, _ = outW.Write([]byte("z\n"))
	_ = outW.Close()
	if _, err := os.Stat(filepath.Join(dir, "custom.log")); err != nil {
		t.Fatalf("explicit path not used: %v", err)
	}
}

func TestWritersEmptyConfig(t *testing.T) {
	outW, errW := Config{}.Writers("p")
	if outW != nil || errW != nil {
		t.Fatalf("expected nil writers without any destination")
	}
}

func TestNewDaemonLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	lg := NewDaemonLogger(&buf, "warn")
	lg.Info("hidden")
	lg.Warn("visible")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info leaked at warn level: %s", out)
	}
	if !strings.Contains(out, "visible") {
		t.Fatalf("warn missing: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("DEBUG") != slog.LevelDebug {
		t.Fatalf("debug parse")
	}
	if parseLevel("nope") != slog.LevelInfo {
		t.Fatalf("fallback parse")
	}
}
