// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package scheduler runs harvests on cron schedules and saves every run as a
// harvest file.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/pdiddy/research-harvester/internal/harvest"
	"github.com/pdiddy/research-harvester/internal/logging"
	"github.com/pdiddy/research-harvester/internal/search"
)

// Harvester runs one harvest. *harvest.Engine implements it.
type Harvester interface {
	Harvest(ctx context.Context, req harvest.Request) (*harvest.Run, error)
}

// JobConfig describes one scheduled harvest.
type JobConfig struct {
	Name           string   `mapstructure:"name" yaml:"name"`
	Schedule       string   `mapstructure:"schedule" yaml:"schedule"`
	Query          string   `mapstructure:"query" yaml:"query"`
	Providers      []string `mapstructure:"providers" yaml:"providers"`
	Pages          []int    `mapstructure:"pages" yaml:"pages"`
	RecordsPerPage int      `mapstructure:"records_per_page" yaml:"records_per_page"`
	StopEarly      bool     `mapstructure:"stop_early" yaml:"stop_early"`
	OutDir         string   `mapstructure:"out_dir" yaml:"out_dir"`
}

// JobsConfig is the jobs file layout.
type JobsConfig struct {
	Jobs []JobConfig `mapstructure:"jobs" yaml:"jobs"`
}

// Request converts the job to a harvest request.
func (j JobConfig) Request() harvest.Request {
	return harvest.Request{
		Query:          j.Query,
		Providers:      j.Providers,
		Pages:          j.Pages,
		RecordsPerPage: j.RecordsPerPage,
		StopEarly:      j.StopEarly,
	}
}

// JobStatus is the state of the last run of a job.
type JobStatus string

const (
	StatusPending JobStatus = "pending"
	StatusRunning JobStatus = "running"
	StatusSuccess JobStatus = "success"
	StatusFailed  JobStatus = "failed"
)

// Job is a registered job and the result of its last run.
type Job struct {
	Config   JobConfig
	EntryID  cron.EntryID
	Status   JobStatus
	LastRun  time.Time
	LastFile string
	LastErr  string
	Runs     int
}

// ErrDuplicateJob is returned when a job name is registered twice.
var ErrDuplicateJob = errors.New("job already registered")

// parser accepts standard five-field specs, an optional leading seconds
// field and descriptors such as @every 1h.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler owns a cron instance and its jobs.
type Scheduler struct {
	mu        sync.RWMutex
	cron      *cron.Cron
	jobs      map[string]*Job
	harvester Harvester
	log       *logrus.Entry
	now       func() time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

// New returns a stopped scheduler.
func New(h Harvester, log *logrus.Entry) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:      cron.New(cron.WithParser(parser)),
		jobs:      make(map[string]*Job),
		harvester: h,
		log:       logging.OrDiscard(log),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// LoadJobs reads a YAML jobs file.
func LoadJobs(path string) ([]JobConfig, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("jobs file: %w", err)
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading jobs file: %w", err)
	}
	var cfg JobsConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing jobs file: %w", err)
	}
	return cfg.Jobs, nil
}

// Validate checks the fields a job needs before it can be scheduled.
func (j JobConfig) Validate() error {
	if j.Name == "" {
		return errors.New("job name must not be empty")
	}
	if _, err := parser.Parse(j.Schedule); err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", j.Name, j.Schedule, err)
	}
	if j.Query == "" {
		return fmt.Errorf("job %s: %w", j.Name, harvest.ErrEmptyQuery)
	}
	if len(j.Providers) == 0 {
		return fmt.Errorf("job %s: %w", j.Name, harvest.ErrNoProviders)
	}
	return nil
}

// AddJob validates and schedules a job.
func (s *Scheduler) AddJob(cfg JobConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[cfg.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, cfg.Name)
	}

	job := &Job{Config: cfg, Status: StatusPending}
	id, err := s.cron.AddFunc(cfg.Schedule, func() { s.execute(job) })
	if err != nil {
		return fmt.Errorf("scheduling job %s: %w", cfg.Name, err)
	}
	job.EntryID = id
	s.jobs[cfg.Name] = job
	s.log.WithFields(logrus.Fields{"job": cfg.Name, "schedule": cfg.Schedule}).Info("job scheduled")
	return nil
}

// RemoveJob unschedules a job.
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	s.cron.Remove(job.EntryID)
	delete(s.jobs, name)
	return nil
}

// Jobs returns copies of the registered jobs sorted by name.
func (s *Scheduler) Jobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Config.Name < out[b].Config.Name })
	return out
}

// Next returns when a job runs next, or the zero time before Start.
func (s *Scheduler) Next(name string) time.Time {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(job.EntryID).Next
}

// Start begins running jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.WithField("jobs", len(s.Jobs())).Info("scheduler started")
}

// Stop stops scheduling, cancels running harvests and waits for them to
// return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out")
	}
}

// RunNow runs a registered job immediately and returns the file it wrote.
func (s *Scheduler) RunNow(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown job %q", name)
	}
	return s.run(ctx, job)
}

func (s *Scheduler) execute(job *Job) {
	if _, err := s.run(s.ctx, job); err != nil {
		s.log.WithError(err).WithField("job", job.Config.Name).Error("scheduled harvest failed")
	}
}

func (s *Scheduler) run(ctx context.Context, job *Job) (string, error) {
	s.setStatus(job, StatusRunning, "", "")
	log := s.log.WithField("job", job.Config.Name)

	run, err := s.harvester.Harvest(ctx, job.Config.Request())
	if err != nil {
		s.setStatus(job, StatusFailed, "", err.Error())
		return "", err
	}
	path, err := s.save(job.Config, run)
	if err != nil {
		s.setStatus(job, StatusFailed, "", err.Error())
		return "", err
	}
	s.setStatus(job, StatusSuccess, path, "")
	log.WithFields(logrus.Fields{
		"run_id": run.ID,
		"file":   path,
		"failed": len(run.Result.Failures()),
	}).Info("scheduled harvest saved")
	return path, nil
}

func (s *Scheduler) setStatus(job *Job, status JobStatus, file, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.Status = status
	switch status {
	case StatusRunning:
		job.LastRun = s.now()
		job.Runs++
	case StatusSuccess:
		job.LastFile = file
		job.LastErr = ""
	case StatusFailed:
		job.LastErr = errMsg
	}
}

// save writes <out_dir>/<job>-<timestamp>-<run id prefix>.yaml.
func (s *Scheduler) save(cfg JobConfig, run *harvest.Run) (string, error) {
	dir := cfg.OutDir
	if dir == "" {
		dir = "harvests"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	id := run.ID
	if len(id) > 8 {
		id = id[:8]
	}
	name := fmt.Sprintf("%s-%s-%s.yaml", slug(cfg.Name), run.Finished.UTC().Format("20060102T150405Z"), id)
	path := filepath.Join(dir, name)
	if err := search.WriteHarvestFile(path, run.HarvestFile()); err != nil {
		return "", err
	}
	return path, nil
}

func slug(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, name)
}
