// Package store persists campaign records and per-target outcome logs.
//
// Two drivers exist: "sqlite" (the production backend) and "memory"
// (tests and throwaway runs). Both satisfy Store; the engine never knows
// which one it is talking to.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"blastbot/internal/campaign"
	"blastbot/internal/logx"
)

// Store is the persistence API used by the engine and the admin API.
//
// CampaignByID returns campaign.ErrNotFound for unknown ids. SaveCampaign is
// an upsert keyed by campaign id. Target logs are append-only and removed
// only via DeleteTargetLogs (cascade on campaign delete).
type Store interface {
	SaveCampaign(ctx context.Context, c *campaign.Campaign) error
	CampaignByID(ctx context.Context, id string) (*campaign.Campaign, error)
	CampaignsByStatus(ctx context.Context, st campaign.Status) ([]*campaign.Campaign, error)
	// ListCampaigns returns one page (1-based) ordered by creation time,
	// plus the total campaign count.
	ListCampaigns(ctx context.Context, page, size int) ([]*campaign.Campaign, int, error)
	DeleteCampaign(ctx context.Context, id string) error

	AppendTargetLogs(ctx context.Context, entries []campaign.TargetLog) error
	TargetLogsByCampaign(ctx context.Context, id string) ([]campaign.TargetLog, error)
	DeleteTargetLogs(ctx context.Context, id string) error

	Close() error
}

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
