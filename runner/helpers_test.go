package runner

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"pkt.systems/pslog"
)

// fakeCommands records every invocation and fails the ones listed in fail.
// Commands are keyed by their last argument: the script for shell steps and
// the subcommand for the service executable.
type fakeCommands struct {
	mu    sync.Mutex
	calls []fakeCall
	fail  map[string]int
}

type fakeCall struct {
	key    string
	argv   []string
	env    []string
	dir    string
	ctxErr error
}

func newFakeCommands(fail map[string]int) *fakeCommands {
	if fail == nil {
		fail = map[string]int{}
	}
	return &fakeCommands{fail: fail}
}

func (f *fakeCommands) Run(ctx context.Context, cmd Command) (CommandResult, error) {
	key := cmd.Argv[len(cmd.Argv)-1]

	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{key: key, argv: cmd.Argv, env: cmd.Env, dir: cmd.Dir, ctxErr: ctx.Err()})
	code, failing := f.fail[key]
	f.mu.Unlock()

	if failing {
		return CommandResult{Output: key + " failed\n", ExitCode: code}, errors.Errorf("exit status %d", code)
	}
	return CommandResult{Output: key + " ok\n"}, nil
}

func (f *fakeCommands) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		keys = append(keys, c.key)
	}
	return keys
}

func (f *fakeCommands) count(key string) int {
	n := 0
	for _, k := range f.keys() {
		if k == key {
			n++
		}
	}
	return n
}

func (f *fakeCommands) call(key string) (fakeCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.key == key {
			return c, true
		}
	}
	return fakeCall{}, false
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		Name: "zarr",
		Install: []Step{
			{Name: "upgrade pip", Run: "install-1"},
			{Name: "install requirements", Run: "install-2"},
			{Name: "install test requirements", Run: "install-3"},
			{Name: "install sdk tooling", Run: "install-4"},
		},
		Build:   Step{Name: "install package", Run: "build"},
		Service: ServiceConfig{Path: "/opt/emulator/emulator"},
		Test:    Step{Name: "pytest", Run: "pytest"},
		Dir:     t.TempDir(),
	}
}

func testEntry(t *testing.T, name string) MatrixEntry {
	t.Helper()
	return MatrixEntry{
		Name:               name,
		InterpreterPath:    t.TempDir(),
		InterpreterVersion: "3.7",
	}
}

func testContext() context.Context {
	logger := pslog.NewWithOptions(io.Discard, pslog.Options{
		Mode:     pslog.ModeStructured,
		NoColor:  true,
		MinLevel: pslog.DebugLevel,
	})
	return pslog.ContextWithLogger(context.Background(), logger)
}

func newTestRunner(cfg *Config, commands CommandRunner) *Runner {
	return NewRunner(cfg, filepath.Join(cfg.Dir, ConfigFileName), RunOptions{
		Commands: commands,
		BaseEnv:  []string{"PATH=/usr/bin", "HOME=/home/ci"},
	})
}

func stageIDs(res *RunResult) []StageID {
	ids := make([]StageID, 0, len(res.Stages))
	for _, s := range res.Stages {
		ids = append(ids, s.Stage)
	}
	return ids
}
