package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"pipematrix/events"
	"pipematrix/metrics"
	"pipematrix/runner/storage"
)

// Runner executes the fixed stage sequence of a pipeline for matrix entries
type Runner struct {
	cfg        *Config
	configPath string
	opts       RunOptions
	commands   CommandRunner
	stream     io.Writer
	services   ServiceFactory
	probers    func(ProbeConfig) (Prober, error)
}

// NewRunner creates a runner for a loaded pipeline definition
func NewRunner(cfg *Config, configPath string, opts RunOptions) *Runner {
	stream := opts.Stream
	if opts.Parallel > 1 {
		// Interleaved output from parallel entries is unreadable
		stream = nil
	}
	commands := opts.Commands
	if commands == nil {
		commands = &ShellRunner{Stream: stream}
	}
	if opts.BaseEnv == nil {
		opts.BaseEnv = os.Environ()
	}
	if opts.Project == "" {
		opts.Project = cfg.Name
	}
	c := *cfg
	c.applyDefaults()
	return &Runner{
		cfg:        &c,
		configPath: configPath,
		opts:       opts,
		commands:   commands,
		stream:     stream,
		services:   DefaultServiceFactory,
		probers:    NewProber,
	}
}

// execution is the state of one run; it is never shared between runs
type execution struct {
	r       *Runner
	entry   MatrixEntry
	env     []string
	log     pslog.Logger
	result  *RunResult
	history *storage.Run
}

// Run executes every stage for entry and reports a single result. The
// service stop stage runs on every exit path, including cancellation.
func (r *Runner) Run(ctx context.Context, entry MatrixEntry) *RunResult {
	e := &execution{
		r:     r,
		entry: entry,
		result: &RunResult{
			RunID:         uuid.NewString(),
			Entry:         entry.Name,
			State:         StatePending,
			TestsStatus:   TestsNotRun,
			CleanupStatus: CleanupStopped,
			Stages:        make([]StageResult, 0, len(Stages)),
			StartedAt:     time.Now(),
		},
	}
	e.log = pslog.Ctx(ctx).With("entry", entry.Name, "run_id", e.result.RunID)
	e.begin()
	defer e.finish()

	e.env = buildEnvironment(r.opts.BaseEnv, r.cfg.FileEnv, entry)
	servicePath := expandServicePath(r.cfg.Service.Path, e.env)
	e.env = withServicePath(e.env, servicePath)
	service := r.services(r.cfg.Service, servicePath, e.env, r.cfg.Dir, r.commands)
	defer e.stopService(ctx, service, servicePath)

	sequence := []struct {
		stage StageID
		next  RunState
		fn    func(*StageResult) error
	}{
		{StageEnvironment, StateEnvReady, func(sr *StageResult) error { return e.environment(ctx, sr) }},
		{StageDependencyInstall, StateDepsInstalled, func(sr *StageResult) error { return e.install(ctx, sr) }},
		{StageBuild, StateBuilt, func(sr *StageResult) error { return e.step(ctx, StageBuild, r.cfg.Build, sr) }},
		{StageServiceStart, StateServiceRunning, func(sr *StageResult) error { return e.startService(ctx, service, servicePath, sr) }},
		{StageTest, StateTestsRun, func(sr *StageResult) error { return e.step(ctx, StageTest, r.cfg.Test, sr) }},
	}
	for _, s := range sequence {
		err := e.stage(s.stage, s.fn)
		if s.stage == StageTest {
			e.result.TestsStatus = TestsPassed
			if err != nil {
				e.result.TestsStatus = TestsFailed
			}
		}
		if err != nil {
			e.result.FailingStage = s.stage
			e.result.Error = err
			return e.result
		}
		e.advance(s.next)
	}
	return e.result
}

func (e *execution) advance(state RunState) {
	e.result.State = state
}

func (e *execution) begin() {
	r := e.r
	metrics.RecordRunStarted()
	if r.opts.Storage != nil {
		run, err := r.opts.Storage.CreateRun(e.result.RunID, r.opts.Project, r.configPath, e.entry.Name, e.entry.InterpreterVersion)
		if err != nil {
			e.log.Warn("failed to record run", "err", err)
		} else {
			e.history = run
			e.result.HistoryID = run.ID
		}
	}
	if r.stream != nil {
		fmt.Fprintf(r.stream, "\n📦 Entry: %s (%s)\n", e.entry.Name, e.entry.InterpreterVersion)
	}
	e.broadcast(events.RunStarted, map[string]any{
		"run_id":     e.result.RunID,
		"history_id": e.result.HistoryID,
		"project":    r.opts.Project,
		"entry":      e.entry.Name,
	})
	e.log.Info("run started", "interpreter_version", e.entry.InterpreterVersion)
}

// finish classifies the run once the service has been stopped
func (e *execution) finish() {
	res := e.result
	res.Duration = time.Since(res.StartedAt)
	if res.FailingStage == "" {
		res.Status = RunSucceeded
		res.State = StateSucceeded
	} else {
		res.Status = RunFailed
		res.State = StateFailed
	}

	r := e.r
	metrics.RecordRunFinished(r.opts.Project, e.entry.Name, res.Status, res.CleanupStatus == CleanupFailed, res.Duration)
	if e.history != nil {
		err := r.opts.Storage.FinishRun(e.history.ID, storage.RunOutcome{
			Status:        res.Status,
			FailingStage:  string(res.FailingStage),
			TestsStatus:   res.TestsStatus,
			CleanupStatus: res.CleanupStatus,
			Duration:      res.Duration,
		})
		if err != nil {
			e.log.Warn("failed to record run outcome", "err", err)
		}
	}
	e.broadcast(events.RunFinished, map[string]any{
		"run_id":         res.RunID,
		"history_id":     res.HistoryID,
		"project":        r.opts.Project,
		"entry":          e.entry.Name,
		"status":         res.Status,
		"failing_stage":  res.FailingStage,
		"tests_status":   res.TestsStatus,
		"cleanup_status": res.CleanupStatus,
	})

	if res.Succeeded() {
		e.log.Info("run succeeded", "duration", res.Duration, "cleanup", res.CleanupStatus)
		if r.stream != nil {
			fmt.Fprintf(r.stream, "🏁 %s finished successfully.\n", e.entry.Name)
		}
		return
	}
	e.log.Error("run failed", "stage", res.FailingStage, "err", res.Error, "cleanup", res.CleanupStatus)
}

// stage runs fn as one stage and records its result
func (e *execution) stage(id StageID, fn func(*StageResult) error) error {
	start := time.Now()
	sr := StageResult{Stage: id}
	err := fn(&sr)
	sr.Duration = time.Since(start)
	sr.Status = StatusSuccess
	if err != nil {
		sr.Status = StatusFailed
		sr.Error = err
	}
	e.result.Stages = append(e.result.Stages, sr)

	metrics.RecordStage(string(id), sr.Status, sr.Duration)
	e.broadcast(events.StageFinished, map[string]any{
		"run_id":    e.result.RunID,
		"entry":     e.entry.Name,
		"stage":     id,
		"status":    sr.Status,
		"exit_code": sr.ExitCode,
	})
	e.log.Debug("stage finished", "stage", id, "status", sr.Status, "duration", sr.Duration)
	return err
}

// track executes one unit of work inside a stage: it prints progress,
// records the execution in history and appends a step result
func (e *execution) track(stage StageID, name, command string, sr *StageResult, fn func() (CommandResult, error)) error {
	r := e.r
	if r.stream != nil {
		fmt.Fprintln(r.stream, "→", name)
	}

	var rec *storage.StageExecution
	if e.history != nil {
		var err error
		rec, err = r.opts.Storage.CreateStageExecution(e.history.ID, string(stage), name, command)
		if err != nil {
			e.log.Warn("failed to record stage execution", "stage", stage, "err", err)
		}
	}

	start := time.Now()
	res, err := fn()
	duration := time.Since(start)

	status := StatusSuccess
	if err != nil {
		status = StatusFailed
	}
	sr.Steps = append(sr.Steps, StepResult{
		Name:     name,
		Command:  command,
		Status:   status,
		ExitCode: res.ExitCode,
		Output:   res.Output,
		Duration: duration,
	})
	sr.Output += res.Output
	sr.ExitCode = res.ExitCode

	if rec != nil {
		if ferr := r.opts.Storage.FinishStageExecution(rec.ID, status, res.ExitCode, res.Output, duration); ferr != nil {
			e.log.Warn("failed to update stage execution", "stage", stage, "err", ferr)
		}
	}

	if err != nil {
		if r.stream != nil {
			fmt.Fprintln(r.stream, "❌ Step failed:", err)
		}
		return &StageError{Stage: stage, Step: name, ExitCode: res.ExitCode, Err: err}
	}
	if r.stream != nil {
		fmt.Fprintln(r.stream, "✅ Done:", name)
	}
	return nil
}

func (e *execution) environment(ctx context.Context, sr *StageResult) error {
	return e.track(StageEnvironment, "environment", "", sr, func() (CommandResult, error) {
		if err := ctx.Err(); err != nil {
			return CommandResult{ExitCode: -1}, err
		}
		if err := resolveInterpreter(e.entry); err != nil {
			return CommandResult{Output: err.Error() + "\n", ExitCode: -1}, err
		}
		var out strings.Builder
		for _, key := range []string{"PATH", EnvInterpreterPath, EnvInterpreterVersion, EnvSDKBuild, EnvServicePath} {
			if v, ok := lookupEnv(e.env, key); ok {
				fmt.Fprintf(&out, "%s=%s\n", key, v)
			}
		}
		return CommandResult{Output: out.String()}, nil
	})
}

// install runs the install steps in order; the first failure aborts the rest
func (e *execution) install(ctx context.Context, sr *StageResult) error {
	for _, step := range e.r.cfg.Install {
		if err := e.step(ctx, StageDependencyInstall, step, sr); err != nil {
			return err
		}
	}
	return nil
}

func (e *execution) step(ctx context.Context, stage StageID, step Step, sr *StageResult) error {
	cmd := Command{
		Argv: shellCommand(e.r.cfg.Shell, step.Run),
		Env:  e.env,
		Dir:  e.r.cfg.Dir,
	}
	return e.track(stage, step.Name, step.Run, sr, func() (CommandResult, error) {
		return e.r.commands.Run(ctx, cmd)
	})
}

func (e *execution) startService(ctx context.Context, service Service, path string, sr *StageResult) error {
	err := e.track(StageServiceStart, "service start", strings.TrimSpace(path+" start"), sr, func() (CommandResult, error) {
		return service.Start(ctx)
	})
	if err != nil {
		return err
	}

	probe := e.r.cfg.Service.Probe
	if probe == nil {
		return nil
	}
	return e.track(StageServiceStart, "service ready", probe.Kind, sr, func() (CommandResult, error) {
		prober, err := e.r.probers(*probe)
		if err != nil {
			return CommandResult{ExitCode: -1}, err
		}
		if err := waitReady(ctx, prober, probe.Timeout, probe.Interval); err != nil {
			return CommandResult{Output: err.Error() + "\n", ExitCode: -1}, err
		}
		return CommandResult{}, nil
	})
}

// stopService is deferred by Run. It detaches from cancellation so an
// interrupted run still releases the service.
func (e *execution) stopService(ctx context.Context, service Service, path string) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.r.cfg.Service.StopTimeout)
	defer cancel()

	err := e.stage(StageServiceStop, func(sr *StageResult) error {
		return e.track(StageServiceStop, "service stop", strings.TrimSpace(path+" stop"), sr, func() (CommandResult, error) {
			return service.Stop(stopCtx)
		})
	})
	e.advance(StateServiceStopped)
	if err != nil {
		e.result.CleanupStatus = CleanupFailed
		e.log.Warn("service stop failed", "err", err)
	}
}

func (e *execution) broadcast(eventType string, data map[string]any) {
	if e.r.opts.Broker != nil {
		e.r.opts.Broker.Broadcast(eventType, data)
	}
}
