package workflow

import (
	"context"
	"fmt"
	"time"
)

// SweepResult lists what a sweep changed. Errors are per-workflow and do not
// stop the sweep.
type SweepResult struct {
	Expired   []string
	Escalated []string
	Errors    []string
}

// Sweeper expires workflows past their template timeout and escalates
// approvals that waited longer than the escalation threshold
type Sweeper struct {
	machine *Machine
}

// NewSweeper creates a sweeper over machine
func NewSweeper(machine *Machine) *Sweeper {
	return &Sweeper{machine: machine}
}

// Sweep checks every open workflow against now
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var result SweepResult

	open, err := s.machine.repo.List(ctx, Filter{
		ExcludeStatus: []Status{StatusCompleted, StatusRejected, StatusExpired},
	})
	if err != nil {
		return result, fmt.Errorf("failed to list open workflows: %w", err)
	}

	for _, w := range open {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		tmpl, ok := LookupTemplate(w.Type)
		if !ok {
			continue
		}

		switch {
		case now.Sub(w.CreatedAt) > tmpl.Timeout:
			if _, err := s.machine.expire(ctx, w.ID); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", w.ID, err))
				continue
			}
			result.Expired = append(result.Expired, w.ID)

		case w.Status == StatusAwaitingApproval && now.Sub(w.UpdatedAt) > tmpl.Escalation:
			reason := fmt.Sprintf("awaiting approval longer than %s", tmpl.Escalation)
			if _, err := s.machine.Escalate(ctx, w.ID, reason); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", w.ID, err))
				continue
			}
			result.Escalated = append(result.Escalated, w.ID)
		}
	}

	if n := len(result.Expired) + len(result.Escalated); n > 0 {
		s.machine.logger.WithContext(ctx).Info().
			Int("expired", len(result.Expired)).
			Int("escalated", len(result.Escalated)).
			Int("errors", len(result.Errors)).
			Msg("workflow sweep complete")
	}
	return result, nil
}
