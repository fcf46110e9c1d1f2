package probe

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"
)

// defaultCommandTimeout bounds a command probe's execution (spec §5: "a
// per-sample timeout, default 3s").
const defaultCommandTimeout = 3 * time.Second

// FileProbe reads a file's entire contents and applies an optional
// transform. Grounded on the teacher's plain os.ReadFile usage elsewhere in
// the pack for config/credentials loading, adapted here to telemetry
// sampling.
type FileProbe struct {
	name      string
	path      string
	unit      string
	transform Transform
}

// NewFileProbe constructs a file probe. transform may be nil, in which case
// the raw trimmed file contents are used.
func NewFileProbe(name, path, unit string, transform Transform) *FileProbe {
	if transform == nil {
		transform = trimTransform
	}
	return &FileProbe{name: name, path: path, unit: unit, transform: transform}
}

func (p *FileProbe) Name() string { return p.name }

func (p *FileProbe) Sample(ctx context.Context) (Value, error) {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return Value{}, &Error{Kind: ErrProbeFailed, Message: p.path, Cause: err}
	}

	val, err := p.transform(string(raw))
	if err != nil {
		return Value{}, err
	}
	return Value{Value: val, Unit: p.unit, Type: "file"}, nil
}

// CommandProbe runs a command (argv-style, no shell), captures trimmed
// stdout, and applies an optional transform. Enforces its own per-sample
// timeout (defaultCommandTimeout unless configured otherwise) on top of
// whatever deadline ctx already carries; the earlier of the two applies.
type CommandProbe struct {
	name      string
	command   []string
	unit      string
	timeout   time.Duration
	transform Transform
}

// NewCommandProbe constructs a command probe. command is argv-style
// (command[0] is the executable, the rest are arguments) — no shell is
// invoked, avoiding injection through probe configuration. transform may be
// nil, in which case the raw trimmed stdout is used.
func NewCommandProbe(name string, command []string, unit string, timeout time.Duration, transform Transform) *CommandProbe {
	if transform == nil {
		transform = trimTransform
	}
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return &CommandProbe{name: name, command: command, unit: unit, timeout: timeout, transform: transform}
}

func (p *CommandProbe) Name() string { return p.name }

func (p *CommandProbe) Sample(ctx context.Context) (Value, error) {
	if len(p.command) == 0 {
		return Value{}, &Error{Kind: ErrProbeFailed, Message: "empty command"}
	}

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, p.command[0], p.command[1:]...)
	out, err := cmd.Output()
	if runCtx.Err() == context.DeadlineExceeded {
		return Value{}, &Error{Kind: ErrProbeTimeout, Message: strings.Join(p.command, " ")}
	}
	if err != nil {
		return Value{}, &Error{Kind: ErrProbeFailed, Message: strings.Join(p.command, " "), Cause: err}
	}

	val, err := p.transform(strings.TrimSpace(string(out)))
	if err != nil {
		return Value{}, err
	}
	return Value{Value: val, Unit: p.unit, Type: "command"}, nil
}

// EnvProbe reads a named environment variable, falling back to a declared
// default when unset.
type EnvProbe struct {
	name       string
	envVar     string
	defaultVal string
	unit       string
	transform  Transform
}

// NewEnvProbe constructs an env probe. transform may be nil, in which case
// the raw value (or default) is used unmodified.
func NewEnvProbe(name, envVar, defaultVal, unit string, transform Transform) *EnvProbe {
	if transform == nil {
		transform = identityTransform
	}
	return &EnvProbe{name: name, envVar: envVar, defaultVal: defaultVal, unit: unit, transform: transform}
}

func (p *EnvProbe) Name() string { return p.name }

func (p *EnvProbe) Sample(ctx context.Context) (Value, error) {
	raw, ok := os.LookupEnv(p.envVar)
	if !ok {
		raw = p.defaultVal
	}

	val, err := p.transform(raw)
	if err != nil {
		return Value{}, err
	}
	return Value{Value: val, Unit: p.unit, Type: "env"}, nil
}
