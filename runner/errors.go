package runner

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies why a run failed
type ErrorKind string

const (
	KindEnvironment       ErrorKind = "environment error"
	KindDependencyInstall ErrorKind = "dependency install error"
	KindBuild             ErrorKind = "build error"
	KindServiceLifecycle  ErrorKind = "service lifecycle error"
	KindTestFailure       ErrorKind = "test failure"
)

// Kind maps a stage to the error kind its failure represents
func Kind(stage StageID) ErrorKind {
	switch stage {
	case StageEnvironment:
		return KindEnvironment
	case StageDependencyInstall:
		return KindDependencyInstall
	case StageBuild:
		return KindBuild
	case StageServiceStart, StageServiceStop:
		return KindServiceLifecycle
	default:
		return KindTestFailure
	}
}

// StageError reports the failure of one stage of a run
type StageError struct {
	Stage    StageID
	Step     string
	ExitCode int
	Err      error
}

func (e *StageError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("%s: step '%s' failed: %v", Kind(e.Stage), e.Step, e.Err)
	}
	return fmt.Sprintf("%s: %v", Kind(e.Stage), e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// AsStageError returns the StageError wrapped by err, if any
func AsStageError(err error) (*StageError, bool) {
	var stageErr *StageError
	if err != nil && errors.As(err, &stageErr) {
		return stageErr, true
	}
	return nil, false
}

// RuntimeError represents an operational error such as a bad config or an
// unavailable history database, as opposed to a failed pipeline stage
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}
