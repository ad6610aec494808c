package cmd

import (
	"github.com/urfave/cli/v2"

	"pipematrix/runner"
)

const EnvVarPrefix = "PIPEMATRIX"

func prefixEnvVar(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

var (
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   runner.ConfigFileName,
		EnvVars: prefixEnvVar("CONFIG"),
		Usage:   "Path to the pipeline definition",
	}
	EntryFlag = &cli.StringSliceFlag{
		Name:    "entry",
		Aliases: []string{"e"},
		EnvVars: prefixEnvVar("ENTRY"),
		Usage:   "Matrix entry to run; repeat to select several (default: all)",
	}
	ParallelFlag = &cli.IntFlag{
		Name:    "parallel",
		Value:   1,
		EnvVars: prefixEnvVar("PARALLEL"),
		Usage:   "Maximum number of matrix entries to run at once",
	}
	DBFlag = &cli.StringFlag{
		Name:    "db",
		EnvVars: prefixEnvVar("DB"),
		Usage:   "SQLite file or postgres:// URL for run history (default: data/pipematrix.db)",
	}
	NoHistoryFlag = &cli.BoolFlag{
		Name:    "no-history",
		EnvVars: prefixEnvVar("NO_HISTORY"),
		Usage:   "Do not record runs",
	}
	StrictCleanupFlag = &cli.BoolFlag{
		Name:    "strict-cleanup",
		EnvVars: prefixEnvVar("STRICT_CLEANUP"),
		Usage:   "Fail the run when the service cannot be stopped",
	}
	InterpreterPathFlag = &cli.StringFlag{
		Name:    "interpreter-path",
		EnvVars: prefixEnvVar("INTERPRETER_PATH"),
		Usage:   "Run a single ad-hoc entry with this interpreter root instead of the configured matrix",
	}
	InterpreterVersionFlag = &cli.StringFlag{
		Name:    "interpreter-version",
		EnvVars: prefixEnvVar("INTERPRETER_VERSION"),
		Usage:   "Version label of the ad-hoc entry",
	}
	SDKFlag = &cli.BoolFlag{
		Name:    "sdk",
		EnvVars: prefixEnvVar("SDK"),
		Usage:   "The ad-hoc entry requires SDK build tooling",
	}
	ServicePathFlag = &cli.StringFlag{
		Name:    "service-path",
		EnvVars: prefixEnvVar("SERVICE_PATH"),
		Usage:   "Override the service executable from the pipeline definition",
	}
	AddrFlag = &cli.StringFlag{
		Name:    "addr",
		Value:   ":8080",
		EnvVars: prefixEnvVar("ADDR"),
		Usage:   "HTTP listen address",
	}
	ProjectsFlag = &cli.StringFlag{
		Name:    "projects",
		Value:   "projects.yml",
		EnvVars: prefixEnvVar("PROJECTS"),
		Usage:   "Path to the projects registry",
	}
	LimitFlag = &cli.IntFlag{
		Name:    "limit",
		Value:   20,
		EnvVars: prefixEnvVar("LIMIT"),
		Usage:   "Number of runs to show",
	}
)

var RunFlags = []cli.Flag{
	ConfigFlag,
	EntryFlag,
	ParallelFlag,
	DBFlag,
	NoHistoryFlag,
	StrictCleanupFlag,
	InterpreterPathFlag,
	InterpreterVersionFlag,
	SDKFlag,
	ServicePathFlag,
}

var ServeFlags = []cli.Flag{
	AddrFlag,
	ProjectsFlag,
	DBFlag,
	ParallelFlag,
}

var HistoryFlags = []cli.Flag{
	LimitFlag,
	DBFlag,
}
