package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"
	"pkt.systems/pslog"

	"pipematrix/exitcodes"
	"pipematrix/runner"
	"pipematrix/runner/storage"
)

// overrides describe an ad-hoc entry taken from flags or PIPEMATRIX_* variables
type overrides struct {
	InterpreterPath    string
	InterpreterVersion string
	SDK                bool
	ServicePath        string
}

// applyOverrides replaces the configured matrix with a single ad-hoc entry
// when an interpreter path is given
func applyOverrides(cfg *runner.Config, o overrides) error {
	if o.ServicePath != "" {
		cfg.Service.Path = o.ServicePath
	}
	if o.InterpreterPath == "" {
		return nil
	}
	name := o.InterpreterVersion
	if name == "" {
		name = filepath.Base(o.InterpreterPath)
	}
	cfg.Matrix = []runner.MatrixEntry{{
		Name:               name,
		InterpreterPath:    o.InterpreterPath,
		InterpreterVersion: o.InterpreterVersion,
		SDK:                o.SDK,
	}}
	if err := cfg.Validate(); err != nil {
		return runner.NewRuntimeError(err)
	}
	return nil
}

// Run executes the 'run' command
func Run(c *cli.Context) error {
	ctx := c.Context
	configPath := c.String(ConfigFlag.Name)

	cfg, err := runner.LoadConfig(configPath)
	if err != nil {
		return runtimeExit(err)
	}
	err = applyOverrides(cfg, overrides{
		InterpreterPath:    c.String(InterpreterPathFlag.Name),
		InterpreterVersion: c.String(InterpreterVersionFlag.Name),
		SDK:                c.Bool(SDKFlag.Name),
		ServicePath:        c.String(ServicePathFlag.Name),
	})
	if err != nil {
		return runtimeExit(err)
	}

	entries, err := cfg.SelectEntries(c.StringSlice(EntryFlag.Name))
	if err != nil {
		return runtimeExit(err)
	}
	if len(entries) == 0 {
		return cli.Exit("no matrix entries to run", exitcodes.RuntimeErr)
	}

	var store *storage.Storage
	if !c.Bool(NoHistoryFlag.Name) {
		store, err = openStore(c.String(DBFlag.Name))
		if err != nil {
			return runtimeExit(err)
		}
		defer store.Close()
	}

	log := pslog.Ctx(ctx).With("pipeline", cfg.Name)
	log.Info("running matrix", "entries", len(entries), "parallel", c.Int(ParallelFlag.Name))

	r := runner.NewRunner(cfg, configPath, runner.RunOptions{
		Storage:  store,
		Stream:   os.Stdout,
		Parallel: c.Int(ParallelFlag.Name),
	})
	results := r.RunMatrix(ctx, entries)

	fmt.Println()
	runner.WriteSummary(os.Stdout, results)

	if !runner.AllPassed(results, c.Bool(StrictCleanupFlag.Name)) {
		return cli.Exit("", exitcodes.PipelineFailure)
	}
	return nil
}

func runtimeExit(err error) error {
	return cli.Exit(err.Error(), exitcodes.RuntimeErr)
}
