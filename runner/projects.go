package runner

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Project is a directory holding a pipematrix.yml
type Project struct {
	Name        string `yaml:"name" json:"name"`
	Path        string `yaml:"path" json:"path"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// ProjectsConfig holds the list of all projects
type ProjectsConfig struct {
	Projects []Project `yaml:"projects" json:"projects"`
}

// LoadProjects loads the projects configuration from a YAML file
func LoadProjects(configPath string) (*ProjectsConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read projects config")
	}

	var config ProjectsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(err, "failed to parse projects config")
	}

	return &config, nil
}

// GetProject returns a project by name
func (pc *ProjectsConfig) GetProject(name string) (*Project, error) {
	for _, project := range pc.Projects {
		if project.Name == name {
			return &project, nil
		}
	}
	return nil, errors.Errorf("project '%s' not found", name)
}

// Validate checks that the project directory exists and has a pipeline config
func (p *Project) Validate(baseDir string) error {
	projectPath := p.dir(baseDir)

	info, err := os.Stat(projectPath)
	if err != nil {
		return errors.Wrap(err, "project path does not exist")
	}
	if !info.IsDir() {
		return errors.New("project path is not a directory")
	}

	if _, err := os.Stat(filepath.Join(projectPath, ConfigFileName)); err != nil {
		return errors.Errorf("%s not found in project directory", ConfigFileName)
	}

	return nil
}

// ConfigPath returns the absolute path to the project's pipeline config
func (p *Project) ConfigPath(baseDir string) string {
	return filepath.Join(p.dir(baseDir), ConfigFileName)
}

func (p *Project) dir(baseDir string) string {
	if filepath.IsAbs(p.Path) {
		return p.Path
	}
	return filepath.Join(baseDir, p.Path)
}
