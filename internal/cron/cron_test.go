package cron

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func okTask(result string) Task {
	return func(context.Context) (string, error) { return result, nil }
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestValidateSchedule(t *testing.T) {
	valid := []string{"@every 30s", "@hourly", "0 * * * *", "*/5 * * * * *"}
	for _, expr := range valid {
		if err := ValidateSchedule(expr); err != nil {
			t.Errorf("ValidateSchedule(%q) = %v", expr, err)
		}
	}
	for _, expr := range []string{"", "every 30s", "61 * * * *", "@every nope"} {
		if err := ValidateSchedule(expr); err == nil {
			t.Errorf("ValidateSchedule(%q) should fail", expr)
		}
	}
}

func TestService_AddAndListJobs(t *testing.T) {
	s := NewService(nil)

	job, err := s.AddJob("b-job", "@every 1m", okTask("x"))
	if err != nil {
		t.Fatalf("AddJob error: %v", err)
	}
	if job.Name != "b-job" || !job.Enabled {
		t.Errorf("job = %+v", job)
	}
	if _, err := s.AddJob("a-job", "@hourly", okTask("y")); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}

	jobs := s.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("len(jobs) = %d, want 2", len(jobs))
	}
	if jobs[0].Name != "a-job" || jobs[1].Name != "b-job" {
		t.Errorf("jobs not sorted by name: %v, %v", jobs[0].Name, jobs[1].Name)
	}
}

func TestService_AddJob_Errors(t *testing.T) {
	s := NewService(nil)
	if _, err := s.AddJob("", "@hourly", okTask("")); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := s.AddJob("j", "@hourly", nil); err == nil {
		t.Error("expected error for nil task")
	}
	if _, err := s.AddJob("j", "not a schedule", okTask("")); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if _, err := s.AddJob("j", "@hourly", okTask("")); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}
	if _, err := s.AddJob("j", "@hourly", okTask("")); err == nil {
		t.Error("expected error for duplicate name")
	}
}

func TestService_RemoveJob(t *testing.T) {
	s := NewService(nil)
	s.AddJob("j", "@hourly", okTask(""))

	if !s.RemoveJob("j") {
		t.Error("RemoveJob should return true")
	}
	if s.RemoveJob("j") {
		t.Error("second RemoveJob should return false")
	}
	if len(s.ListJobs()) != 0 {
		t.Error("jobs should be empty")
	}
	if err := s.RunNow("j"); err == nil {
		t.Error("RunNow on removed job should fail")
	}
}

func TestService_RunNow_RecordsState(t *testing.T) {
	s := NewService(nil)
	s.AddJob("ok", "@hourly", okTask("counted 3"))
	s.AddJob("bad", "@hourly", func(context.Context) (string, error) {
		return "", errors.New("boom")
	})

	if err := s.RunNow("ok"); err != nil {
		t.Fatalf("RunNow error: %v", err)
	}
	if err := s.RunNow("bad"); err != nil {
		t.Fatalf("RunNow error: %v", err)
	}

	for _, job := range s.ListJobs() {
		switch job.Name {
		case "ok":
			if job.State.LastStatus != "ok" || job.State.LastResult != "counted 3" || job.State.Runs != 1 {
				t.Errorf("ok state = %+v", job.State)
			}
		case "bad":
			if job.State.LastStatus != "error" || job.State.LastError != "boom" {
				t.Errorf("bad state = %+v", job.State)
			}
		}
		if job.State.LastRunAtMs == 0 {
			t.Errorf("%s: LastRunAtMs not set", job.Name)
		}
	}
}

func TestService_ScheduledExecution(t *testing.T) {
	s := NewService(nil)
	var runs atomic.Int32
	s.AddJob("tick", "@every 1s", func(context.Context) (string, error) {
		runs.Add(1)
		return "", nil
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop()

	waitFor(t, 3*time.Second, func() bool { return runs.Load() >= 1 })
}

func TestService_AddJobAfterStart(t *testing.T) {
	s := NewService(nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop()

	var runs atomic.Int32
	s.AddJob("late", "@every 1s", func(context.Context) (string, error) {
		runs.Add(1)
		return "", nil
	})
	waitFor(t, 3*time.Second, func() bool { return runs.Load() >= 1 })
}

func TestService_EnableJob(t *testing.T) {
	s := NewService(nil)
	var runs atomic.Int32
	s.AddJob("j", "@every 1s", func(context.Context) (string, error) {
		runs.Add(1)
		return "", nil
	})

	job, err := s.EnableJob("j", false)
	if err != nil {
		t.Fatalf("EnableJob error: %v", err)
	}
	if job.Enabled {
		t.Error("job should be disabled")
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop()

	time.Sleep(1500 * time.Millisecond)
	if runs.Load() != 0 {
		t.Errorf("disabled job ran %d times", runs.Load())
	}

	if _, err := s.EnableJob("j", true); err != nil {
		t.Fatalf("EnableJob error: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return runs.Load() >= 1 })

	if _, err := s.EnableJob("missing", true); err == nil {
		t.Error("expected error for missing job")
	}
}

func TestService_Start_ParentCancelInvokesStop(t *testing.T) {
	s := NewService(nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	cancel()
	waitFor(t, 2*time.Second, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.cron == nil
	})

	// stopped services can be started again
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("restart error: %v", err)
	}
	s.Stop()
}

func TestService_DoubleStart(t *testing.T) {
	s := NewService(nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop()
	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
}

func TestService_TaskSeesCancelledContext(t *testing.T) {
	s := NewService(nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	var cancelled atomic.Bool
	s.AddJob("ctx", "@hourly", func(ctx context.Context) (string, error) {
		cancelled.Store(ctx.Err() != nil)
		return "", nil
	})

	cancel()
	waitFor(t, 2*time.Second, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.cron == nil
	})
	s.RunNow("ctx")
	if !cancelled.Load() {
		t.Error("task should observe the cancelled run context")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate(strings.Repeat("a", 20), 5); got != "aaaaa..." {
		t.Errorf("truncate = %q", got)
	}
}
