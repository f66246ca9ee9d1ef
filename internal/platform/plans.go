package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/stellarlinkco/aiplatform/internal/store"
)

const (
	msgTaskRequired  = "Task description is required"
	msgPlanCreated   = "Plan created successfully"
	plansDescription = "Active execution plans"

	PlanStatusCreated = "created"
	planIDPrefix      = "plan_"
	maxInsertAttempts = 3
)

type CreatePlanInput struct {
	TaskDescription json.RawMessage
	Steps           json.RawMessage
}

type CreatePlanResult struct {
	Success bool   `json:"success"`
	PlanID  string `json:"plan_id"`
	Message string `json:"message"`
}

type Plan struct {
	TaskDescription string          `json:"task_description"`
	Steps           json.RawMessage `json:"steps"`
	CreatedAt       string          `json:"created_at"`
	Status          string          `json:"status"`
}

// PlanPair encodes as a two-element array: [plan_id, plan].
type PlanPair struct {
	ID   string
	Plan Plan
}

func (pp PlanPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{pp.ID, pp.Plan})
}

func (pp *PlanPair) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf("plan pair has %d elements", len(parts))
	}
	if err := json.Unmarshal(parts[0], &pp.ID); err != nil {
		return err
	}
	return json.Unmarshal(parts[1], &pp.Plan)
}

type PlanList struct {
	Plans       []PlanPair `json:"plans"`
	Count       int        `json:"count"`
	Description string     `json:"description"`
}

// CreatePlan stores a new immutable plan. Steps are kept exactly as sent;
// absent or null steps become an empty array.
func (p *Platform) CreatePlan(ctx context.Context, in CreatePlanInput) (*CreatePlanResult, error) {
	task, ok := taskDescription(in.TaskDescription)
	if !ok {
		return nil, &ValidationError{Message: msgTaskRequired}
	}

	steps := json.RawMessage("[]")
	if present(in.Steps) {
		if !json.Valid(in.Steps) {
			return nil, &ValidationError{Message: "Steps must be valid JSON"}
		}
		steps = bytes.TrimSpace(in.Steps)
	}

	for attempt := 0; ; attempt++ {
		now := p.now().UTC()
		plan := store.Plan{
			ID:              p.nextPlanID(now.UnixMilli()),
			TaskDescription: task,
			Steps:           steps,
			CreatedAt:       now,
			Status:          PlanStatusCreated,
		}
		err := p.plans.Insert(ctx, plan)
		if err == nil {
			return &CreatePlanResult{Success: true, PlanID: plan.ID, Message: msgPlanCreated}, nil
		}
		// another core sharing the store took the id
		if errors.Is(err, store.ErrDuplicatePlan) && attempt+1 < maxInsertAttempts {
			continue
		}
		return nil, fmt.Errorf("create plan: %w", err)
	}
}

func (p *Platform) GetPlans(ctx context.Context) (*PlanList, error) {
	plans, err := p.plans.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}

	pairs := make([]PlanPair, 0, len(plans))
	for _, pl := range plans {
		pairs = append(pairs, PlanPair{
			ID: pl.ID,
			Plan: Plan{
				TaskDescription: pl.TaskDescription,
				Steps:           pl.Steps,
				CreatedAt:       FormatTime(pl.CreatedAt),
				Status:          pl.Status,
			},
		})
	}
	return &PlanList{Plans: pairs, Count: len(pairs), Description: plansDescription}, nil
}

// nextPlanID returns plan_<n> where n is the wall clock in milliseconds
// times 1000, bumped past the previous id when the clock has not advanced.
// Ids are strictly increasing for the life of the Platform.
func (p *Platform) nextPlanID(nowMilli int64) string {
	candidate := nowMilli * 1000
	for {
		last := p.lastPlanID.Load()
		next := candidate
		if next <= last {
			next = last + 1
		}
		if p.lastPlanID.CompareAndSwap(last, next) {
			return planIDPrefix + strconv.FormatInt(next, 10)
		}
	}
}

func taskDescription(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}
