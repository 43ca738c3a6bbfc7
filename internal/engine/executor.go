package engine

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"blastbot/internal/campaign"
	"blastbot/internal/logx"
)

// SweepResult aggregates one sweep's outcomes.
type SweepResult struct {
	Success int
	Failed  int
}

// sweep executes one pass over the campaign's target list, in stored order,
// with no parallelism inside the sweep: ordering bounds the rate against the
// shared delivery account and keeps failures diagnosable in log order.
//
// Per-target errors are data, not control flow: they become FAILED log
// entries and counter increments, never an aborted sweep. Store errors are
// the fatal case and flip the campaign to FAILED.
func (e *Engine) sweep(ctx context.Context, c *campaign.Campaign, flag *runFlag) SweepResult {
	defer e.clearFlag(c.ID)

	log := e.log.With(logx.String("campaign", c.ID), logx.String("name", c.Name))
	start := time.Now()

	// The campaign may have been deleted or paused between the timer firing
	// and this goroutine starting.
	cur, err := e.st.CampaignByID(ctx, c.ID)
	if err != nil {
		if !errors.Is(err, campaign.ErrNotFound) {
			log.Error("sweep aborted: campaign load failed", logx.Err(err))
		}
		return SweepResult{}
	}
	if cur.Status != campaign.StatusRunning {
		log.Debug("sweep skipped: campaign not running", logx.String("status", string(cur.Status)))
		return SweepResult{}
	}
	c = cur
	baseSuccess, baseFailure := c.SuccessCount, c.FailureCount

	log.Info("sweep started", logx.Int("targets", len(c.Targets)))

	var (
		res       SweepResult
		batch     = make([]campaign.TargetLog, 0, e.cfg.LogBatchSize)
		cancelled bool
		fatal     error
	)

	// flush appends the pending batch and persists the running counters, so
	// a mid-sweep crash loses at most one batch of outcomes.
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := e.st.AppendTargetLogs(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
		c.SuccessCount = baseSuccess + int64(res.Success)
		c.FailureCount = baseFailure + int64(res.Failed)
		c.UpdatedAt = time.Now()
		return e.st.SaveCampaign(ctx, c)
	}

	for _, target := range c.Targets {
		if flag.cancel.Load() {
			cancelled = true
			break
		}
		if err := e.throttle(ctx); err != nil {
			break // run context cancelled (shutdown)
		}

		sendErr := e.sendOne(ctx, c, target)
		if ctx.Err() != nil {
			// Shutdown mid-send; do not count an interrupted attempt.
			break
		}
		entry := campaign.TargetLog{CampaignID: c.ID, Target: target, At: time.Now()}
		if sendErr == nil {
			res.Success++
			entry.Result = campaign.ResultSuccess
		} else {
			res.Failed++
			entry.Result = campaign.ResultFailed
			entry.Detail = sendErr.Error()
			log.Debug("target delivery failed", logx.String("target", target), logx.Err(sendErr))
		}
		batch = append(batch, entry)

		if len(batch) >= e.cfg.LogBatchSize {
			if err := flush(); err != nil {
				fatal = err
				break
			}
		}
	}

	if err := flush(); err != nil && fatal == nil {
		fatal = err
	}

	if ctx.Err() != nil {
		// Process shutdown: leave the record RUNNING; Recover re-arms it on
		// the next start.
		log.Warn("sweep interrupted by shutdown",
			logx.Int("success", res.Success), logx.Int("failed", res.Failed))
		return res
	}

	// Deletion wins: if the campaign vanished mid-sweep, abandon all status
	// updates.
	if _, err := e.st.CampaignByID(ctx, c.ID); errors.Is(err, campaign.ErrNotFound) {
		log.Info("campaign deleted mid-sweep; abandoning status update")
		return res
	}

	// A pause or delete can set the flag after the loop's last check; honor it
	// instead of re-arming.
	if !cancelled && fatal == nil && flag.cancel.Load() {
		cancelled = true
	}

	switch {
	case fatal != nil:
		e.failCampaign(ctx, c, fatal)
	case cancelled:
		e.Disarm(c.ID)
		c.Status = campaign.StatusPaused
		c.NextRunAt = time.Time{}
		c.UpdatedAt = time.Now()
		if err := e.st.SaveCampaign(ctx, c); err != nil {
			log.Error("failed to persist PAUSED after cancellation", logx.Err(err))
		}
		log.Info("sweep cancelled",
			logx.Int("success", res.Success), logx.Int("failed", res.Failed),
			logx.Duration("dur", time.Since(start)))
	default:
		if err := e.Arm(ctx, c); err != nil {
			// Arm already flipped the campaign to FAILED.
			log.Error("re-arm after sweep failed", logx.Err(err))
			return res
		}
		fields := []logx.Field{
			logx.Int("success", res.Success), logx.Int("failed", res.Failed),
			logx.Duration("dur", time.Since(start)), logx.Time("next_run", c.NextRunAt),
		}
		if res.Failed > 0 {
			log.Warn("sweep finished with failures", fields...)
		} else {
			log.Info("sweep finished", fields...)
		}
	}
	return res
}

// sendOne resolves and delivers a single target under the per-target
// timeout. A timeout is a per-target failure, not a sweep failure.
func (e *Engine) sendOne(ctx context.Context, c *campaign.Campaign, target string) error {
	sctx, cancel := context.WithTimeout(ctx, e.cfg.SenderTimeout)
	defer cancel()
	rcpt, err := e.snd.Resolve(sctx, target)
	if err != nil {
		return err
	}
	return e.snd.Deliver(sctx, rcpt, c.Payload)
}

// throttle sleeps the randomized inter-send delay, uniform in [base, 2*base).
// The jitter (rather than a fixed tick) avoids synchronized bursts across
// campaigns sharing one delivery account. When a process-wide rate cap is
// configured it is applied first.
func (e *Engine) throttle(ctx context.Context) error {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	base := e.cfg.SendDelayBase
	if base <= 0 {
		return nil
	}
	d := base + time.Duration(rand.Int63n(int64(base)))
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
