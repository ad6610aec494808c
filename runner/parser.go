package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the pipeline definition looked up in project directories
const ConfigFileName = "pipematrix.yml"

const defaultStopTimeout = 2 * time.Minute

var defaultShell = []string{"bash", "-c"}

type Step struct {
	Name string `yaml:"name" json:"name"`
	Run  string `yaml:"run" json:"run"`
}

// ProbeConfig describes how to wait for the external service to accept requests
type ProbeConfig struct {
	Kind      string        `yaml:"kind"` // "tcp" or "s3"
	Address   string        `yaml:"address,omitempty"`
	Endpoint  string        `yaml:"endpoint,omitempty"`
	AccessKey string        `yaml:"access_key,omitempty"`
	SecretKey string        `yaml:"secret_key,omitempty"`
	Secure    bool          `yaml:"secure,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
	Interval  time.Duration `yaml:"interval,omitempty"`
}

type ServiceConfig struct {
	Path        string        `yaml:"path"`
	StopTimeout time.Duration `yaml:"stop_timeout,omitempty"`
	Probe       *ProbeConfig  `yaml:"probe,omitempty"`
}

// MatrixEntry is one named interpreter configuration the pipeline runs for
type MatrixEntry struct {
	Name               string            `yaml:"name" json:"name"`
	InterpreterPath    string            `yaml:"interpreter_path" json:"interpreter_path"`
	InterpreterVersion string            `yaml:"interpreter_version" json:"interpreter_version"`
	Executable         string            `yaml:"executable,omitempty" json:"executable,omitempty"`
	SDK                bool              `yaml:"sdk,omitempty" json:"sdk,omitempty"`
	Env                map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// Schedule triggers matrix runs at a time of day or on an interval
type Schedule struct {
	At      string   `yaml:"at,omitempty"`    // "HH:MM"
	Every   string   `yaml:"every,omitempty"` // "1h", "30m", "1h30m"
	Entries []string `yaml:"entries,omitempty"`
}

type Config struct {
	Name      string        `yaml:"name"`
	EnvFile   string        `yaml:"env_file,omitempty"`
	Shell     []string      `yaml:"shell,omitempty"`
	Install   []Step        `yaml:"install"`
	Build     Step          `yaml:"build"`
	Service   ServiceConfig `yaml:"service"`
	Test      Step          `yaml:"test"`
	Matrix    []MatrixEntry `yaml:"matrix"`
	Schedules []Schedule    `yaml:"schedules,omitempty"`

	// Dir is the directory of the config file; commands run there.
	Dir string `yaml:"-"`
	// FileEnv holds variables read from EnvFile.
	FileEnv map[string]string `yaml:"-"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewRuntimeError(errors.Wrap(err, "failed to read pipeline config"))
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, NewRuntimeError(errors.Wrap(err, "failed to parse pipeline config"))
	}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, NewRuntimeError(errors.Wrap(err, "failed to resolve config directory"))
	}
	cfg.Dir = dir

	if cfg.EnvFile != "" {
		envPath := cfg.EnvFile
		if !filepath.IsAbs(envPath) {
			envPath = filepath.Join(dir, envPath)
		}
		cfg.FileEnv, err = godotenv.Read(envPath)
		if err != nil {
			return nil, NewRuntimeError(errors.Wrapf(err, "failed to read env file %s", envPath))
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, NewRuntimeError(err)
	}
	return &cfg, nil
}

// applyDefaults fills unset fields. Slices and the probe are replaced rather
// than edited so a copied Config never writes into the original.
func (c *Config) applyDefaults() {
	if len(c.Shell) == 0 {
		c.Shell = defaultShell
	}
	if c.Service.StopTimeout <= 0 {
		c.Service.StopTimeout = defaultStopTimeout
	}
	if c.Service.Probe != nil {
		p := *c.Service.Probe
		if p.Timeout <= 0 {
			p.Timeout = 30 * time.Second
		}
		if p.Interval <= 0 {
			p.Interval = 500 * time.Millisecond
		}
		c.Service.Probe = &p
	}
	install := make([]Step, len(c.Install))
	for i, step := range c.Install {
		if step.Name == "" {
			step.Name = fmt.Sprintf("install %d", i+1)
		}
		install[i] = step
	}
	c.Install = install
	if c.Build.Name == "" {
		c.Build.Name = "build"
	}
	if c.Test.Name == "" {
		c.Test.Name = "test"
	}
}

// Validate checks the static shape of the pipeline. Interpreter paths are
// checked per run, in the environment stage.
func (c *Config) Validate() error {
	if c.Test.Run == "" {
		return errors.New("test.run is required")
	}
	for i, step := range c.Install {
		if strings.TrimSpace(step.Run) == "" {
			return errors.Errorf("install[%d] (%s): run is required", i, step.Name)
		}
	}
	if p := c.Service.Probe; p != nil {
		switch p.Kind {
		case ProbeTCP:
			if p.Address == "" {
				return errors.New("service.probe.address is required for tcp probes")
			}
		case ProbeS3:
			if p.Endpoint == "" {
				return errors.New("service.probe.endpoint is required for s3 probes")
			}
		default:
			return errors.Errorf("service.probe.kind %q is not supported", p.Kind)
		}
	}
	seen := make(map[string]bool, len(c.Matrix))
	for i, entry := range c.Matrix {
		if entry.Name == "" {
			return errors.Errorf("matrix[%d]: name is required", i)
		}
		if seen[entry.Name] {
			return errors.Errorf("matrix entry %q is defined twice", entry.Name)
		}
		seen[entry.Name] = true
		if entry.InterpreterPath == "" {
			return errors.Errorf("matrix entry %q: interpreter_path is required", entry.Name)
		}
	}
	for i, s := range c.Schedules {
		if (s.At == "") == (s.Every == "") {
			return errors.Errorf("schedules[%d]: exactly one of at or every is required", i)
		}
		if s.At != "" {
			if _, _, err := parseAtTime(s.At); err != nil {
				return errors.Wrapf(err, "schedules[%d]: at %q", i, s.At)
			}
		}
		if s.Every != "" {
			if _, err := parseInterval(s.Every); err != nil {
				return errors.Wrapf(err, "schedules[%d]: every %q", i, s.Every)
			}
		}
	}
	return nil
}

// SelectEntries returns the matrix entries named in filter, in matrix order.
// An empty filter selects every entry.
func (c *Config) SelectEntries(filter []string) ([]MatrixEntry, error) {
	if len(filter) == 0 {
		return c.Matrix, nil
	}
	wanted := make(map[string]bool, len(filter))
	for _, name := range filter {
		wanted[name] = true
	}
	selected := make([]MatrixEntry, 0, len(filter))
	for _, entry := range c.Matrix {
		if wanted[entry.Name] {
			selected = append(selected, entry)
			delete(wanted, entry.Name)
		}
	}
	for name := range wanted {
		return nil, NewRuntimeError(errors.Errorf("matrix entry %q not found", name))
	}
	return selected, nil
}
