package runner

import (
	"context"
)

// Service is the handle of the external background process a run needs
// while its tests execute. Stop must be safe after a failed or skipped Start.
type Service interface {
	Start(ctx context.Context) (CommandResult, error)
	Stop(ctx context.Context) (CommandResult, error)
}

// ExecService drives a service executable through its start and stop subcommands
type ExecService struct {
	Path     string
	Env      []string
	Dir      string
	Commands CommandRunner
}

func (s *ExecService) Start(ctx context.Context) (CommandResult, error) {
	return s.invoke(ctx, "start")
}

func (s *ExecService) Stop(ctx context.Context) (CommandResult, error) {
	return s.invoke(ctx, "stop")
}

func (s *ExecService) invoke(ctx context.Context, subcommand string) (CommandResult, error) {
	return s.Commands.Run(ctx, Command{
		Argv: []string{s.Path, subcommand},
		Env:  s.Env,
		Dir:  s.Dir,
	})
}

// noopService stands in when the pipeline declares no service
type noopService struct{}

func (noopService) Start(context.Context) (CommandResult, error) { return CommandResult{}, nil }
func (noopService) Stop(context.Context) (CommandResult, error)  { return CommandResult{}, nil }

// ServiceFactory creates the service handle for one run
type ServiceFactory func(cfg ServiceConfig, path string, env []string, dir string, commands CommandRunner) Service

// DefaultServiceFactory returns an ExecService, or a no-op handle when no
// executable is configured
func DefaultServiceFactory(cfg ServiceConfig, path string, env []string, dir string, commands CommandRunner) Service {
	if path == "" {
		return noopService{}
	}
	return &ExecService{Path: path, Env: env, Dir: dir, Commands: commands}
}
