package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"blastbot/internal/campaign"
	"blastbot/internal/logx"
)

// Arm computes the campaign's next fire instant, persists it on the record
// (status PENDING, errorMessage cleared), and installs exactly one live timer
// keyed by campaign id. An existing timer for the id is replaced, so Arm is
// safe to call redundantly from creation, completion, and recovery paths.
//
// A schedule that fails to parse here (it was valid at creation, so this is
// the late-corruption case) flips the campaign to FAILED instead of
// propagating — one bad campaign must not take down scheduling for the rest.
func (e *Engine) Arm(ctx context.Context, c *campaign.Campaign) error {
	now := time.Now()
	next, err := e.nextRunOrFallback(c, now)
	if err != nil {
		e.failCampaign(ctx, c, fmt.Errorf("arm: %w", err))
		return err
	}

	c.Status = campaign.StatusPending
	c.NextRunAt = next
	c.LastError = ""
	c.UpdatedAt = now
	if err := e.st.SaveCampaign(ctx, c); err != nil {
		return err
	}
	e.installTimer(c.ID, time.Until(next))
	e.log.Debug("campaign armed", logx.String("campaign", c.ID), logx.Time("next_run", next))
	return nil
}

// Disarm cancels and removes the live timer if present; no-op otherwise. The
// persisted status is untouched — that is the lifecycle controller's job.
func (e *Engine) Disarm(id string) {
	e.tmu.Lock()
	defer e.tmu.Unlock()
	if t, ok := e.timers[id]; ok {
		t.Stop()
		delete(e.timers, id)
	}
	// Invalidate any callback already in flight from this timer.
	e.vers[id]++
}

func (e *Engine) installTimer(id string, d time.Duration) {
	if d < 0 {
		d = 0
	}
	e.tmu.Lock()
	defer e.tmu.Unlock()
	if t, ok := e.timers[id]; ok {
		t.Stop()
	}
	ver := e.vers[id] + 1
	e.vers[id] = ver
	e.timers[id] = time.AfterFunc(d, func() { e.onFire(id, ver) })
}

// onFire runs when a campaign's timer elapses. It re-validates the persisted
// status before invoking the executor: the campaign may have been paused,
// deleted, or already running by the time the callback runs.
func (e *Engine) onFire(id string, ver uint64) {
	e.tmu.Lock()
	if e.vers[id] != ver {
		e.tmu.Unlock()
		return
	}
	delete(e.timers, id)
	e.tmu.Unlock()

	e.mu.Lock()
	ctx := e.runCtx
	e.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	// Register the execution flag before touching the record: a concurrent
	// delete must observe the live run and wait, or the RUNNING write below
	// could recreate rows the delete already removed.
	flag, ok := e.newFlag(id)
	if !ok {
		// A sweep is already in flight; within one campaign sweeps never overlap.
		e.log.Warn("timer fired while sweep in flight; skipping", logx.String("campaign", id))
		return
	}

	c, err := e.st.CampaignByID(ctx, id)
	if err != nil {
		e.clearFlag(id)
		if errors.Is(err, campaign.ErrNotFound) {
			e.log.Debug("timer fired for deleted campaign; skipping", logx.String("campaign", id))
		} else {
			e.log.Error("timer fired but campaign load failed", logx.String("campaign", id), logx.Err(err))
		}
		return
	}
	if c.Status != campaign.StatusPending {
		e.clearFlag(id)
		e.log.Warn("timer fired but campaign not eligible; skipping",
			logx.String("campaign", id), logx.String("status", string(c.Status)))
		return
	}

	// A pause or delete that missed the flag above has already called Disarm,
	// which bumps the version. Re-check before the RUNNING write.
	e.tmu.Lock()
	stale := e.vers[id] != ver
	e.tmu.Unlock()
	if stale {
		e.clearFlag(id)
		e.log.Debug("campaign disarmed while fire was starting; skipping", logx.String("campaign", id))
		return
	}

	c.Status = campaign.StatusRunning
	c.LastRunAt = time.Now()
	c.UpdatedAt = c.LastRunAt
	if err := e.st.SaveCampaign(ctx, c); err != nil {
		e.clearFlag(id)
		e.log.Error("failed to mark campaign running", logx.String("campaign", id), logx.Err(err))
		return
	}

	e.sweepWG.Add(1)
	go func() {
		defer e.sweepWG.Done()
		e.sweep(ctx, c, flag)
	}()
}

// Recover re-arms schedules after a process restart. PENDING campaigns were
// waiting for their next occurrence; RUNNING campaigns were mid-sweep when
// the process died — their execution flag was in-memory only, so the sweep
// cannot be resumed and the recurring schedule restarts from PENDING.
// PAUSED and FAILED campaigns are deliberately not re-armed: a crash must not
// silently resurrect what an operator or a fatal error stopped.
func (e *Engine) Recover(ctx context.Context) error {
	recovered := 0
	for _, st := range []campaign.Status{campaign.StatusRunning, campaign.StatusPending} {
		cs, err := e.st.CampaignsByStatus(ctx, st)
		if err != nil {
			return fmt.Errorf("recover: load %s campaigns: %w", st, err)
		}
		for _, c := range cs {
			if err := e.Arm(ctx, c); err != nil {
				// Arm already moved the campaign to FAILED; keep recovering the rest.
				e.log.Error("recovery arm failed", logx.String("campaign", c.ID), logx.Err(err))
				continue
			}
			recovered++
		}
	}
	if recovered > 0 {
		e.log.Info("schedules recovered", logx.Int("campaigns", recovered))
	}
	return nil
}

// failCampaign records a fatal error on the campaign and stops its schedule.
func (e *Engine) failCampaign(ctx context.Context, c *campaign.Campaign, cause error) {
	e.Disarm(c.ID)
	c.Status = campaign.StatusFailed
	c.LastError = cause.Error()
	c.NextRunAt = time.Time{}
	c.UpdatedAt = time.Now()
	if err := e.st.SaveCampaign(ctx, c); err != nil {
		e.log.Error("failed to persist FAILED status", logx.String("campaign", c.ID), logx.Err(err))
	}
	e.log.Warn("campaign failed", logx.String("campaign", c.ID), logx.Err(cause))
}
