package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"pipematrix/runner/storage"
)

// openStore opens the history database. An empty dsn means data/pipematrix.db
// under the current working directory.
func openStore(dsn string) (*storage.Storage, error) {
	if dsn == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get current directory")
		}
		dataDir := filepath.Join(cwd, "data")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, errors.Wrap(err, "failed to create data directory")
		}
		dsn = filepath.Join(dataDir, "pipematrix.db")
	} else if !strings.Contains(dsn, "://") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, errors.Wrap(err, "failed to create database directory")
		}
	}
	return storage.Open(dsn)
}
