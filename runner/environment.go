package runner

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Variables exported to every child process of a run
const (
	EnvInterpreterPath    = "INTERPRETER_PATH"
	EnvInterpreterVersion = "INTERPRETER_VERSION"
	EnvSDKBuild           = "SDK_BUILD"
	EnvServicePath        = "SERVICE_PATH"
	EnvMatrixEntry        = "MATRIX_ENTRY"
)

// interpreterDirs are the directories of an interpreter install that hold
// executables, in lookup order
func interpreterDirs(root string) []string {
	return []string{root, filepath.Join(root, "bin"), filepath.Join(root, "Scripts")}
}

// resolveInterpreter checks that the entry points at an installed interpreter
func resolveInterpreter(entry MatrixEntry) error {
	info, err := os.Stat(entry.InterpreterPath)
	if err != nil {
		return errors.Wrap(err, "interpreter path does not exist")
	}
	if !info.IsDir() {
		return errors.Errorf("interpreter path %s is not a directory", entry.InterpreterPath)
	}
	if entry.Executable == "" {
		return nil
	}
	names := []string{entry.Executable}
	if runtime.GOOS == "windows" && filepath.Ext(entry.Executable) == "" {
		names = append(names, entry.Executable+".exe")
	}
	for _, dir := range interpreterDirs(entry.InterpreterPath) {
		for _, name := range names {
			info, err := os.Stat(filepath.Join(dir, name))
			if err != nil || info.IsDir() {
				continue
			}
			if runtime.GOOS == "windows" || info.Mode()&0o111 != 0 {
				return nil
			}
		}
	}
	return errors.Errorf("interpreter executable %s not found under %s", entry.Executable, entry.InterpreterPath)
}

// buildEnvironment returns the run-local environment for entry. The search
// path is extended with the interpreter directories; base is never modified.
func buildEnvironment(base []string, fileEnv map[string]string, entry MatrixEntry) []string {
	vars := make(map[string]string, len(base)+len(fileEnv)+len(entry.Env)+5)
	var pathKey = "PATH"
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		// Windows spells it "Path"
		if strings.EqualFold(k, "PATH") {
			pathKey = k
		}
		vars[k] = v
	}
	for k, v := range fileEnv {
		vars[k] = v
	}
	for k, v := range entry.Env {
		vars[k] = v
	}

	dirs := interpreterDirs(entry.InterpreterPath)
	if current := vars[pathKey]; current != "" {
		dirs = append(dirs, current)
	}
	vars[pathKey] = strings.Join(dirs, string(os.PathListSeparator))

	vars[EnvMatrixEntry] = entry.Name
	vars[EnvInterpreterPath] = entry.InterpreterPath
	vars[EnvInterpreterVersion] = entry.InterpreterVersion
	if entry.SDK {
		vars[EnvSDKBuild] = "1"
	} else {
		delete(vars, EnvSDKBuild)
	}
	// Owned by the run; see withServicePath
	delete(vars, EnvServicePath)

	env := make([]string, 0, len(vars))
	for k, v := range vars {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// withServicePath returns env with SERVICE_PATH set to path, or unset when
// path is empty
func withServicePath(env []string, path string) []string {
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if !strings.HasPrefix(kv, EnvServicePath+"=") {
			out = append(out, kv)
		}
	}
	if path != "" {
		out = append(out, EnvServicePath+"="+path)
	}
	return out
}

// expandServicePath resolves variable references such as ${EMULATOR_LOC}
// in the configured service path against env
func expandServicePath(path string, env []string) string {
	return os.Expand(path, func(key string) string {
		v, _ := lookupEnv(env, key)
		return v
	})
}

// lookupEnv returns the value of key in env
func lookupEnv(env []string, key string) (string, bool) {
	prefix := key + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			return kv[len(prefix):], true
		}
	}
	return "", false
}
