package engine

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"blastbot/internal/campaign"
	"blastbot/internal/logx"
)

// Campaign schedules are standard 5-field cron expressions; descriptors like
// "@daily" and "@every 2h" are accepted too.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule rejects expressions that cannot be parsed. Called once at
// campaign creation so later NextRun calls do not fail under normal operation.
func ValidateSchedule(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("%w: %q: %v", campaign.ErrInvalidSchedule, expr, err)
	}
	return nil
}

// NextRun returns the next fire instant strictly after ref. Pure and
// deterministic: the same (expr, ref) always yields the same instant. A zero
// time means the expression never recurs after ref.
func NextRun(expr string, ref time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", campaign.ErrInvalidSchedule, expr, err)
	}
	return sched.Next(ref), nil
}

// nextRunOrFallback applies the availability-over-precision policy: an
// expression that yields no future instant degrades to "try again in 24h"
// instead of dropping the campaign from the schedule.
func (e *Engine) nextRunOrFallback(c *campaign.Campaign, ref time.Time) (time.Time, error) {
	next, err := NextRun(c.Schedule, ref.In(e.loc))
	if err != nil {
		return time.Time{}, err
	}
	if next.IsZero() {
		e.log.Warn("schedule yields no future run; falling back to +24h",
			logx.String("campaign", c.ID), logx.String("schedule", c.Schedule))
		return ref.Add(24 * time.Hour), nil
	}
	return next, nil
}
