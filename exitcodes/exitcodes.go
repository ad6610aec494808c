// Package exitcodes defines the exit codes used by pipematrix.
package exitcodes

// * Success (0): every selected matrix entry passed
// * PipelineFailure (1): at least one entry failed a stage, or a service stop
//   failed while --strict-cleanup is set
// * RuntimeErr (2): configuration, history or other operational errors
const (
	Success         = 0
	PipelineFailure = 1
	RuntimeErr      = 2
)
