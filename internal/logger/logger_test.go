package logger

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
)

func TestAgentWritersDerivedPaths(t *testing.T) {
	dir := t.TempDir()
	c := Config{Dir: dir}

	outW, errW, err := c.AgentWriters("worker")
	if err != nil {
		t.Fatalf("AgentWriters: %v", err)
	}
	if outW == nil || errW == nil {
		t.Fatal("expected writers when Dir is set")
	}
	t.Cleanup(func() {
		_ = outW.Close()
		_ = errW.Close()
	})

	if _, err := outW.Write([]byte("hello stdout\n")); err != nil {
		t.Fatalf("write stdout: %v", err)
	}
	if _, err := errW.Write([]byte("hello stderr\n")); err != nil {
		t.Fatalf("write stderr: %v", err)
	}

	for _, name := range []string{"worker.stdout.log", "worker.stderr.log"} {
		if matches, _ := filepath.Glob(filepath.Join(dir, name)); len(matches) != 1 {
			t.Errorf("missing %s in %s", name, dir)
		}
	}
}

func TestAgentWritersExplicitPathsWin(t *testing.T) {
	dir := t.TempDir()
	c := Config{
		Dir:        dir,
		StdoutPath: filepath.Join(dir, "custom.out"),
	}
	outW, errW, err := c.AgentWriters("worker")
	if err != nil {
		t.Fatalf("AgentWriters: %v", err)
	}
	t.Cleanup(func() {
		_ = outW.Close()
		_ = errW.Close()
	})

	if _, err := outW.Write([]byte("x")); err != nil {
		t.Fatal(err)
	}
	if matches, _ := filepath.Glob(filepath.Join(dir, "custom.out")); len(matches) != 1 {
		t.Error("explicit stdout path not used")
	}
}

func TestAgentWritersNilWithoutConfig(t *testing.T) {
	outW, errW, err := Config{}.AgentWriters("worker")
	if err != nil {
		t.Fatalf("AgentWriters: %v", err)
	}
	if outW != nil || errW != nil {
		t.Error("expected nil writers without Dir or explicit paths")
	}
}

func TestReaperWriter(t *testing.T) {
	if w := (Config{}).ReaperWriter("worker"); w != nil {
		t.Error("expected nil reaper writer without Dir")
	}

	dir := t.TempDir()
	w := Config{Dir: dir}.ReaperWriter("worker")
	if w == nil {
		t.Fatal("expected reaper writer with Dir set")
	}
	if _, err := w.Write([]byte("reaper line\n")); err != nil {
		t.Fatal(err)
	}
	_ = w.Close()
	if matches, _ := filepath.Glob(filepath.Join(dir, "worker.reaper.log")); len(matches) != 1 {
		t.Error("reaper log not created")
	}
}

func TestNewEmitsLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, slog.LevelInfo, false)

	log.Debug("hidden")
	log.Info("started", "agent", "worker", "pid", 42)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug record emitted at info level")
	}
	if !strings.Contains(out, "started") || !strings.Contains(out, "agent=worker") || !strings.Contains(out, "pid=42") {
		t.Errorf("output = %q", out)
	}
}

func TestNewColorHandlerWritesRecords(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, slog.LevelWarn, true)

	log.Info("below threshold")
	log.Warn("disk almost full", "free_mb", 12)

	out := buf.String()
	if strings.Contains(out, "below threshold") {
		t.Error("info record emitted at warn level")
	}
	if !strings.Contains(out, "disk almost full") {
		t.Errorf("output = %q", out)
	}
}
