package runner

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// RunMatrix runs every entry independently and returns the results in
// entry order. At most opts.Parallel entries run at once.
func (r *Runner) RunMatrix(ctx context.Context, entries []MatrixEntry) []*RunResult {
	results := make([]*RunResult, len(entries))

	limit := r.opts.Parallel
	if limit < 1 {
		limit = 1
	}
	// Runs report failures in their results, never as group errors, so one
	// failing entry cannot cancel the others.
	var g errgroup.Group
	g.SetLimit(limit)
	for i, entry := range entries {
		g.Go(func() error {
			results[i] = r.Run(ctx, entry)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// RunPipeline loads the pipeline at configPath and runs the selected matrix entries
func RunPipeline(ctx context.Context, configPath string, opts RunOptions) ([]*RunResult, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	entries, err := cfg.SelectEntries(opts.Entries)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, NewRuntimeError(errors.New("no matrix entries to run"))
	}
	return NewRunner(cfg, configPath, opts).RunMatrix(ctx, entries), nil
}

// Summary counts matrix results
type Summary struct {
	Total           int `json:"total"`
	Succeeded       int `json:"succeeded"`
	Failed          int `json:"failed"`
	CleanupFailures int `json:"cleanup_failures"`
}

func Summarize(results []*RunResult) Summary {
	var s Summary
	for _, res := range results {
		s.Total++
		if res.Succeeded() {
			s.Succeeded++
		} else {
			s.Failed++
		}
		if res.CleanupStatus == CleanupFailed {
			s.CleanupFailures++
		}
	}
	return s
}

// AllPassed applies the aggregate policy of RunResult.Passed to every result
func AllPassed(results []*RunResult, strictCleanup bool) bool {
	for _, res := range results {
		if !res.Passed(strictCleanup) {
			return false
		}
	}
	return true
}
