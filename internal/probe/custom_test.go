package probe

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileProbeReadsAndTransforms(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "temp")
	if err := os.WriteFile(path, []byte("  46.5\n"), 0o644); err != nil {
		t.Fatalf("writing fixture file: %v", err)
	}

	transform, err := TransformSpec{Name: "parse-float"}.Build()
	if err != nil {
		t.Fatalf("building transform: %v", err)
	}

	p := NewFileProbe("custom.disk_temp", path, "celsius", transform)
	v, err := p.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample returned error: %v", err)
	}
	if v.Value != 46.5 {
		t.Errorf("Value = %v, want 46.5", v.Value)
	}
	if v.Type != "file" {
		t.Errorf("Type = %q, want file", v.Type)
	}
}

func TestFileProbeMissingFileIsProbeError(t *testing.T) {
	p := NewFileProbe("custom.missing", filepath.Join(t.TempDir(), "absent"), "", nil)
	_, err := p.Sample(context.Background())
	if err == nil {
		t.Fatalf("expected an error reading a missing file")
	}
}

func TestEnvProbeFallsBackToDefault(t *testing.T) {
	p := NewEnvProbe("custom.label", "PANELMON_TEST_UNSET_VAR", "fallback", "", nil)
	v, err := p.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample returned error: %v", err)
	}
	if v.Value != "fallback" {
		t.Errorf("Value = %v, want fallback", v.Value)
	}
}

func TestEnvProbeReadsSetVariable(t *testing.T) {
	t.Setenv("PANELMON_TEST_VAR", "42")
	transform, _ := TransformSpec{Name: "parse-int"}.Build()

	p := NewEnvProbe("custom.count", "PANELMON_TEST_VAR", "0", "", transform)
	v, err := p.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample returned error: %v", err)
	}
	if v.Value != int64(42) {
		t.Errorf("Value = %v, want 42", v.Value)
	}
}

func TestCommandProbeCapturesStdout(t *testing.T) {
	p := NewCommandProbe("custom.echo", []string{"echo", "hello"}, "", time.Second, nil)
	v, err := p.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample returned error: %v", err)
	}
	if v.Value != "hello" {
		t.Errorf("Value = %q, want hello", v.Value)
	}
	if v.Type != "command" {
		t.Errorf("Type = %q, want command", v.Type)
	}
}

func TestCommandProbeTimesOut(t *testing.T) {
	p := NewCommandProbe("custom.sleep", []string{"sleep", "5"}, "", 50*time.Millisecond, nil)
	_, err := p.Sample(context.Background())
	if err == nil {
		t.Fatalf("expected a timeout error")
	}
}

func TestCommandProbeRejectsEmptyCommand(t *testing.T) {
	p := NewCommandProbe("custom.empty", nil, "", 0, nil)
	_, err := p.Sample(context.Background())
	if err == nil {
		t.Fatalf("expected an error for an empty command")
	}
}
