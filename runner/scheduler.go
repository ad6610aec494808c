package runner

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"pkt.systems/pslog"

	"pipematrix/events"
	"pipematrix/runner/storage"
)

// Scheduler triggers matrix runs based on the schedules of each project
type Scheduler struct {
	projectsConfig *ProjectsConfig
	storage        *storage.Storage
	broker         *events.EventBroker
	baseDir        string
	parallel       int

	mu          sync.Mutex
	lastRuns    map[string]time.Time // last trigger per schedule
	runningJobs map[string]bool      // schedules with a run in progress
	wg          sync.WaitGroup

	now func() time.Time
	run func(ctx context.Context, configPath string, opts RunOptions) ([]*RunResult, error)
}

// NewScheduler creates a new scheduler instance
func NewScheduler(projectsConfig *ProjectsConfig, store *storage.Storage, broker *events.EventBroker, baseDir string, parallel int) *Scheduler {
	return &Scheduler{
		projectsConfig: projectsConfig,
		storage:        store,
		broker:         broker,
		baseDir:        baseDir,
		parallel:       parallel,
		lastRuns:       make(map[string]time.Time),
		runningJobs:    make(map[string]bool),
		now:            time.Now,
		run:            RunPipeline,
	}
}

// Start runs the scheduler loop until ctx is done, then waits for
// triggered runs to finish
func (s *Scheduler) Start(ctx context.Context) {
	log := pslog.Ctx(ctx)
	log.Info("scheduler started")
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			s.wg.Wait()
			log.Info("scheduler stopped")
			return
		}
	}
}

// tick checks all schedules and triggers runs that are due
func (s *Scheduler) tick(ctx context.Context) {
	log := pslog.Ctx(ctx)
	for _, project := range s.projectsConfig.Projects {
		configPath := project.ConfigPath(s.baseDir)

		cfg, err := LoadConfig(configPath)
		if err != nil {
			log.Debug("schedule config skipped", "project", project.Name, "err", err)
			continue
		}

		for i, schedule := range cfg.Schedules {
			key := fmt.Sprintf("%s-schedule-%d", project.Name, i)

			if _, err := cfg.SelectEntries(schedule.Entries); err != nil {
				log.Warn("schedule skipped", "project", project.Name, "schedule", key, "err", err)
				continue
			}

			s.mu.Lock()
			if s.runningJobs[key] || !s.shouldRun(ctx, schedule, s.lastRuns[key]) {
				s.mu.Unlock()
				continue
			}
			s.runningJobs[key] = true
			s.lastRuns[key] = s.now()
			s.mu.Unlock()

			s.wg.Add(1)
			go func(name, configPath string, sched Schedule, key string) {
				defer s.wg.Done()
				s.executeSchedule(ctx, name, configPath, sched)

				s.mu.Lock()
				delete(s.runningJobs, key)
				s.mu.Unlock()
			}(project.Name, configPath, schedule, key)
		}
	}
}

// shouldRun determines if a schedule should be triggered now
func (s *Scheduler) shouldRun(ctx context.Context, schedule Schedule, lastRun time.Time) bool {
	now := s.now()

	// Time-based schedule (at: "HH:MM")
	if schedule.At != "" {
		hour, minute, err := parseAtTime(schedule.At)
		if err != nil {
			pslog.Ctx(ctx).Warn("invalid schedule time", "at", schedule.At, "err", err)
			return false
		}
		if now.Hour() != hour || now.Minute() != minute {
			return false
		}
		// Once per day at this time
		return lastRun.IsZero() || now.Sub(lastRun) >= 23*time.Hour
	}

	// Interval-based schedule (every: "1h", "30m", etc.)
	if schedule.Every != "" {
		interval, err := parseInterval(schedule.Every)
		if err != nil {
			pslog.Ctx(ctx).Warn("invalid schedule interval", "every", schedule.Every, "err", err)
			return false
		}
		return lastRun.IsZero() || now.Sub(lastRun) >= interval
	}

	return false
}

// executeSchedule triggers a matrix run for one schedule
func (s *Scheduler) executeSchedule(ctx context.Context, projectName, configPath string, schedule Schedule) {
	entries := "all entries"
	if len(schedule.Entries) > 0 {
		entries = strings.Join(schedule.Entries, ", ")
	}
	trigger := schedule.At
	if trigger == "" {
		trigger = schedule.Every
	}
	log := pslog.Ctx(ctx).With("project", projectName, "trigger", trigger)
	log.Info("schedule triggered", "entries", entries)

	results, err := s.run(ctx, configPath, RunOptions{
		Storage:  s.storage,
		Broker:   s.broker,
		Project:  projectName,
		Entries:  schedule.Entries,
		Parallel: s.parallel,
	})
	if err != nil {
		log.Error("scheduled run failed", "err", err)
		return
	}
	summary := Summarize(results)
	log.Info("scheduled run completed", "succeeded", summary.Succeeded, "failed", summary.Failed)
}

// parseAtTime parses "HH:MM" format
func parseAtTime(at string) (hour, minute int, err error) {
	parts := strings.Split(at, ":")
	if len(parts) != 2 {
		return 0, 0, errors.New("invalid time format, expected HH:MM")
	}

	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, errors.New("invalid hour")
	}

	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, errors.New("invalid minute")
	}

	return hour, minute, nil
}

// parseInterval parses duration strings like "1h", "30m", "1h30m"
func parseInterval(every string) (time.Duration, error) {
	duration, err := time.ParseDuration(every)
	if err != nil {
		return 0, errors.New("invalid duration format")
	}
	if duration <= 0 {
		return 0, errors.New("interval must be positive")
	}
	return duration, nil
}
