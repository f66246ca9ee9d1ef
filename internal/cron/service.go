// Package cron runs the platform's named background jobs on robfig/cron
// schedules and records the outcome of each run.
package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Task is the work a job performs. The returned string is a short
// human-readable result recorded in the job state.
type Task func(ctx context.Context) (string, error)

type JobState struct {
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"` // "ok" or "error"
	LastError   string `json:"lastError,omitempty"`
	LastResult  string `json:"lastResult,omitempty"`
	Runs        int    `json:"runs"`
}

type Job struct {
	Name     string   `json:"name"`
	Schedule string   `json:"schedule"`
	Enabled  bool     `json:"enabled"`
	State    JobState `json:"state"`
}

var parser = rcron.NewParser(
	rcron.SecondOptional | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor,
)

// ValidateSchedule reports whether expr is a schedule the service accepts:
// five or six field cron expressions and descriptors such as "@every 30s".
func ValidateSchedule(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

type Service struct {
	logger *zap.Logger

	mu       sync.Mutex
	jobs     []Job
	tasks    map[string]Task
	cron     *rcron.Cron
	entryMap map[string]rcron.EntryID // job name -> cron entry ID
	runCtx   context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
}

func NewService(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		logger:   logger,
		tasks:    make(map[string]Task),
		entryMap: make(map[string]rcron.EntryID),
		runCtx:   context.Background(),
	}
}

func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})

	s.mu.Lock()
	if s.cron != nil {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("cron already started")
	}
	s.runCtx = runCtx
	s.cancel = cancel
	s.stopCh = stopCh
	s.cron = rcron.New(rcron.WithParser(parser))
	for i := range s.jobs {
		if s.jobs[i].Enabled {
			s.registerJob(s.jobs[i])
		}
	}
	n := len(s.entryMap)
	c := s.cron
	s.mu.Unlock()

	c.Start()
	s.logger.Info("started", zap.Int("jobs", n))

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
		}
	}()
	return nil
}

// registerJob must be called with s.mu held and s.cron set.
func (s *Service) registerJob(job Job) {
	name := job.Name
	id, err := s.cron.AddFunc(job.Schedule, func() {
		s.executeJob(name)
	})
	if err != nil {
		s.logger.Error("register job failed", zap.String("job", name), zap.String("schedule", job.Schedule), zap.Error(err))
		return
	}
	s.entryMap[name] = id
}

func (s *Service) executeJob(name string) {
	s.mu.Lock()
	task, ok := s.tasks[name]
	ctx := s.runCtx
	s.mu.Unlock()
	if !ok {
		return
	}

	s.logger.Debug("executing job", zap.String("job", name))
	result, err := task(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].Name != name {
			continue
		}
		st := &s.jobs[i].State
		st.LastRunAtMs = time.Now().UnixMilli()
		st.Runs++
		if err != nil {
			st.LastStatus = "error"
			st.LastError = err.Error()
			st.LastResult = ""
			s.logger.Warn("job failed", zap.String("job", name), zap.Error(err))
		} else {
			st.LastStatus = "ok"
			st.LastError = ""
			st.LastResult = truncate(result, 200)
			s.logger.Debug("job done", zap.String("job", name), zap.String("result", st.LastResult))
		}
		return
	}
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopCh := s.stopCh
	c := s.cron
	s.cancel = nil
	s.stopCh = nil
	s.cron = nil
	s.entryMap = make(map[string]rcron.EntryID)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stopCh != nil {
		close(stopCh)
	}
	if c != nil {
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			s.logger.Warn("stop timeout waiting for running jobs")
		}
		s.logger.Info("stopped")
	}
}

// AddJob registers a named job. Names are unique.
func (s *Service) AddJob(name, schedule string, task Task) (*Job, error) {
	if name == "" {
		return nil, fmt.Errorf("job name is required")
	}
	if task == nil {
		return nil, fmt.Errorf("job %s: task is required", name)
	}
	if err := ValidateSchedule(schedule); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.tasks[name]; dup {
		return nil, fmt.Errorf("job %s already exists", name)
	}
	job := Job{Name: name, Schedule: schedule, Enabled: true}
	s.jobs = append(s.jobs, job)
	s.tasks[name] = task
	if s.cron != nil {
		s.registerJob(job)
	}
	return &job, nil
}

func (s *Service) RemoveJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, job := range s.jobs {
		if job.Name == name {
			if entryID, ok := s.entryMap[name]; ok && s.cron != nil {
				s.cron.Remove(entryID)
				delete(s.entryMap, name)
			}
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			delete(s.tasks, name)
			return true
		}
	}
	return false
}

func (s *Service) EnableJob(name string, enabled bool) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].Name != name {
			continue
		}
		s.jobs[i].Enabled = enabled
		if s.cron != nil {
			if enabled {
				if _, ok := s.entryMap[name]; !ok {
					s.registerJob(s.jobs[i])
				}
			} else if entryID, ok := s.entryMap[name]; ok {
				s.cron.Remove(entryID)
				delete(s.entryMap, name)
			}
		}
		job := s.jobs[i]
		return &job, nil
	}
	return nil, fmt.Errorf("job %s not found", name)
}

// RunNow executes a job synchronously, outside its schedule.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	_, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}
	s.executeJob(name)
	return nil
}

// ListJobs returns a snapshot of all jobs sorted by name.
func (s *Service) ListJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]Job, len(s.jobs))
	copy(result, s.jobs)
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
