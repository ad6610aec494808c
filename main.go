package main

import (
	"context"
	"log"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"pkt.systems/psi"
	"pkt.systems/pslog"

	"pipematrix/cmd"
	"pipematrix/exitcodes"
)

var Version = "v0.1.0"

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)
	log.SetOutput(pslog.LogLogger(logger).Writer())
	log.SetFlags(0)

	app := newApp()
	err := app.RunContext(ctx, os.Args)
	if err == nil {
		return exitcodes.Success
	}

	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		if msg := exitErr.Error(); msg != "" {
			pslog.Ctx(ctx).Error("pipematrix failed", "err", msg)
		}
		return exitErr.ExitCode()
	}
	pslog.Ctx(ctx).Error("pipematrix failed", "err", err)
	return exitcodes.RuntimeErr
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "pipematrix"
	app.Usage = "Run a build and test pipeline across an interpreter matrix"
	app.Version = Version
	// Exit codes are mapped in submain
	app.ExitErrHandler = func(*cli.Context, error) {}
	app.Commands = []*cli.Command{
		{
			Name:   "run",
			Usage:  "Run the pipeline for the selected matrix entries",
			Flags:  cmd.RunFlags,
			Action: cmd.Run,
		},
		{
			Name:   "serve",
			Usage:  "Serve the HTTP API and run scheduled pipelines",
			Flags:  cmd.ServeFlags,
			Action: cmd.Serve,
		},
		{
			Name:   "history",
			Usage:  "Show recorded runs",
			Flags:  cmd.HistoryFlags,
			Action: cmd.History,
		},
	}
	return app
}
