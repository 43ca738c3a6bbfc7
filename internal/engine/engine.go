// Package engine is the scheduled dispatch engine: it turns campaign cron
// expressions into timers, executes sweeps with throttling and partial-failure
// tolerance, and guards the campaign lifecycle state machine across
// scheduler, executor, and restart-recovery paths.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"blastbot/internal/campaign"
	"blastbot/internal/logx"
	"blastbot/internal/sender"
	"blastbot/internal/store"
)

// Config controls the engine. Zero fields take defaults (see withDefaults).
type Config struct {
	MaxTargets    int
	MaxTextLen    int
	SendDelayBase time.Duration // per-target sleep is uniform in [base, 2*base)
	SenderTimeout time.Duration
	LogBatchSize  int
	// RatePerSec optionally caps sends across all campaigns. 0 disables the
	// cap; the jitter delay remains the primary throttle.
	RatePerSec       int
	DeleteRetries    int
	DeleteRetryDelay time.Duration
	Timezone         string // IANA TZ for cron evaluation, e.g. "Asia/Jakarta"
}

func (c Config) withDefaults() Config {
	if c.MaxTargets <= 0 {
		c.MaxTargets = 10000
	}
	if c.MaxTextLen <= 0 {
		c.MaxTextLen = 4096
	}
	if c.SendDelayBase <= 0 {
		c.SendDelayBase = time.Second
	}
	if c.SenderTimeout <= 0 {
		c.SenderTimeout = 15 * time.Second
	}
	if c.LogBatchSize <= 0 {
		c.LogBatchSize = 50
	}
	if c.DeleteRetries <= 0 {
		c.DeleteRetries = 10
	}
	if c.DeleteRetryDelay <= 0 {
		c.DeleteRetryDelay = 200 * time.Millisecond
	}
	return c
}

// runFlag is the in-memory cooperative cancellation signal for one in-flight
// sweep. It exists exactly while the sweep runs and is never persisted, which
// is why restart recovery restarts a crashed campaign's schedule from PENDING
// instead of resuming the half-finished sweep.
type runFlag struct {
	cancel atomic.Bool
}

type Engine struct {
	cfg     Config
	st      store.Store
	snd     sender.Sender
	log     logx.Logger
	loc     *time.Location
	limiter *rate.Limiter

	mu        sync.Mutex
	started   bool
	runCtx    context.Context
	runCancel context.CancelFunc

	// tmu guards the live timer registry. Versions invalidate callbacks from
	// timers that were cancelled or replaced after firing.
	tmu    sync.Mutex
	timers map[string]*time.Timer
	vers   map[string]uint64

	// fmu guards the execution-flag registry (one entry per in-flight sweep).
	fmu   sync.Mutex
	flags map[string]*runFlag

	sweepWG sync.WaitGroup
}

func New(cfg Config, st store.Store, snd sender.Sender, log logx.Logger) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:    cfg,
		st:     st,
		snd:    snd,
		log:    log,
		loc:    loadLocation(cfg.Timezone, log),
		timers: map[string]*time.Timer{},
		vers:   map[string]uint64{},
		flags:  map[string]*runFlag{},
	}
	if cfg.RatePerSec > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return e
}

// Start arms recovery and makes the engine live. Timers installed before
// Start never fire (Arm requires a run context).
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.runCtx, e.runCancel = context.WithCancel(ctx)
	e.mu.Unlock()

	return e.Recover(ctx)
}

// Stop cancels in-flight sweeps via context, stops all timers, and waits for
// sweeps to drain until ctx expires. Campaigns mid-sweep keep their persisted
// RUNNING status and are re-armed by Recover on the next start.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	cancel := e.runCancel
	e.runCancel = nil
	e.mu.Unlock()

	e.tmu.Lock()
	for id, t := range e.timers {
		t.Stop()
		e.vers[id]++
	}
	e.timers = map[string]*time.Timer{}
	e.tmu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		e.sweepWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.log.Info("engine stopped")
		return nil
	case <-ctx.Done():
		e.log.Warn("engine stop timed out waiting for sweeps", logx.Err(ctx.Err()))
		return ctx.Err()
	}
}

// Create validates the input, persists a PENDING campaign, and arms it.
// Nothing is created when validation fails.
func (e *Engine) Create(ctx context.Context, name string, p campaign.Payload, targets []string, schedule string) (*campaign.Campaign, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: empty name", campaign.ErrValidation)
	}
	if err := campaign.ValidatePayload(p, e.cfg.MaxTextLen); err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no targets", campaign.ErrValidation)
	}
	if len(targets) > e.cfg.MaxTargets {
		return nil, fmt.Errorf("%w: %d targets exceeds limit %d", campaign.ErrValidation, len(targets), e.cfg.MaxTargets)
	}
	for _, t := range targets {
		if err := campaign.CheckTarget(t); err != nil {
			return nil, err
		}
	}
	if err := ValidateSchedule(schedule); err != nil {
		return nil, err
	}

	now := time.Now()
	c := &campaign.Campaign{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		Payload:   p,
		Targets:   append([]string(nil), targets...),
		Schedule:  schedule,
		Status:    campaign.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Arm(ctx, c); err != nil {
		return nil, err
	}
	e.log.Info("campaign created",
		logx.String("campaign", c.ID), logx.String("name", c.Name),
		logx.Int("targets", len(c.Targets)), logx.String("schedule", c.Schedule),
		logx.Time("next_run", c.NextRunAt))
	return c, nil
}

// StartCampaign (re)schedules a PENDING, PAUSED, or FAILED campaign.
func (e *Engine) StartCampaign(ctx context.Context, id string) error {
	c, err := e.st.CampaignByID(ctx, id)
	if err != nil {
		return err
	}
	if e.isRunning(id) || c.Status == campaign.StatusRunning {
		return fmt.Errorf("%w: campaign is running", campaign.ErrIllegalState)
	}
	if c.Status == campaign.StatusCompleted {
		return fmt.Errorf("%w: campaign is completed", campaign.ErrIllegalState)
	}
	if err := e.Arm(ctx, c); err != nil {
		return err
	}
	e.log.Info("campaign started", logx.String("campaign", id), logx.Time("next_run", c.NextRunAt))
	return nil
}

// PauseCampaign unschedules the campaign. When a sweep is in flight the
// cancel flag is set and the status flips to PAUSED asynchronously, once the
// sweep loop observes the flag (bounded by the per-target delay).
func (e *Engine) PauseCampaign(ctx context.Context, id string) error {
	c, err := e.st.CampaignByID(ctx, id)
	if err != nil {
		return err
	}
	if f := e.flagFor(id); f != nil {
		f.cancel.Store(true)
		e.Disarm(id)
		e.log.Info("pause requested; sweep will stop at next flag check", logx.String("campaign", id))
		return nil
	}
	switch c.Status {
	case campaign.StatusPaused:
		return fmt.Errorf("%w: already paused", campaign.ErrIllegalState)
	case campaign.StatusCompleted, campaign.StatusFailed:
		return fmt.Errorf("%w: campaign is %s", campaign.ErrIllegalState, strings.ToLower(string(c.Status)))
	}
	e.Disarm(id)
	c.Status = campaign.StatusPaused
	c.NextRunAt = time.Time{}
	c.UpdatedAt = time.Now()
	if err := e.st.SaveCampaign(ctx, c); err != nil {
		return err
	}
	e.log.Info("campaign paused", logx.String("campaign", id))
	return nil
}

// DeleteCampaign removes the campaign and cascade-deletes its target logs.
// A RUNNING campaign is asked to cancel first; if the sweep does not
// acknowledge within the retry budget the delete fails with ErrStillRunning
// instead of leaving a half-deleted record.
func (e *Engine) DeleteCampaign(ctx context.Context, id string) error {
	if _, err := e.st.CampaignByID(ctx, id); err != nil {
		return err
	}
	// Disarm before checking the flag: a fire that passed its version gate but
	// has not registered its flag yet aborts on the version bump instead of
	// writing the record back after the rows are removed.
	e.Disarm(id)
	if f := e.flagFor(id); f != nil {
		f.cancel.Store(true)
		if !e.waitSweepDone(ctx, id) {
			return fmt.Errorf("%w: cancellation not acknowledged; retry or pause first", campaign.ErrStillRunning)
		}
	}
	if err := e.st.DeleteTargetLogs(ctx, id); err != nil {
		return err
	}
	if err := e.st.DeleteCampaign(ctx, id); err != nil && !errors.Is(err, campaign.ErrNotFound) {
		return err
	}
	e.log.Info("campaign deleted", logx.String("campaign", id))
	return nil
}

// Get returns the campaign with its live status override plus all target logs.
func (e *Engine) Get(ctx context.Context, id string) (*campaign.Campaign, []campaign.TargetLog, error) {
	c, err := e.st.CampaignByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	e.overrideLive(c)
	logs, err := e.st.TargetLogsByCampaign(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return c, logs, nil
}

// List returns one page of campaigns. Campaigns with a live execution flag
// report RUNNING regardless of the (possibly not yet caught up) stored
// status; the transient status is never written back.
func (e *Engine) List(ctx context.Context, page, size int) ([]*campaign.Campaign, int, error) {
	cs, total, err := e.st.ListCampaigns(ctx, page, size)
	if err != nil {
		return nil, 0, err
	}
	for _, c := range cs {
		e.overrideLive(c)
	}
	return cs, total, nil
}

func (e *Engine) overrideLive(c *campaign.Campaign) {
	if e.isRunning(c.ID) {
		c.Status = campaign.StatusRunning
	}
}

// waitSweepDone polls the flag registry until the sweep clears its flag or
// the retry budget expires.
func (e *Engine) waitSweepDone(ctx context.Context, id string) bool {
	for i := 0; i < e.cfg.DeleteRetries; i++ {
		if !e.isRunning(id) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(e.cfg.DeleteRetryDelay):
		}
	}
	return !e.isRunning(id)
}

// ---- execution-flag registry ----

// newFlag registers an execution flag for id. ok is false when a sweep is
// already in flight, which keeps at most one sweep per campaign.
func (e *Engine) newFlag(id string) (*runFlag, bool) {
	e.fmu.Lock()
	defer e.fmu.Unlock()
	if _, exists := e.flags[id]; exists {
		return nil, false
	}
	f := &runFlag{}
	e.flags[id] = f
	return f, true
}

func (e *Engine) flagFor(id string) *runFlag {
	e.fmu.Lock()
	defer e.fmu.Unlock()
	return e.flags[id]
}

func (e *Engine) clearFlag(id string) {
	e.fmu.Lock()
	defer e.fmu.Unlock()
	delete(e.flags, id)
}

func (e *Engine) isRunning(id string) bool {
	e.fmu.Lock()
	defer e.fmu.Unlock()
	_, ok := e.flags[id]
	return ok
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
