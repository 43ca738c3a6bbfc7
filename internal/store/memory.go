package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"blastbot/internal/campaign"
)

// Memory is an in-process Store used by tests and throwaway runs. It applies
// the same semantics as the sqlite backend (upsert by id, ErrNotFound,
// append-only logs).
type Memory struct {
	mu        sync.RWMutex
	campaigns map[string]*campaign.Campaign
	logs      map[string][]campaign.TargetLog
	nextLogID int64
}

func NewMemory() *Memory {
	return &Memory{
		campaigns: map[string]*campaign.Campaign{},
		logs:      map[string][]campaign.TargetLog{},
	}
}

func (m *Memory) SaveCampaign(_ context.Context, c *campaign.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[c.ID] = c.Clone()
	return nil
}

func (m *Memory) CampaignByID(_ context.Context, id string) (*campaign.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	return c.Clone(), nil
}

func (m *Memory) CampaignsByStatus(_ context.Context, st campaign.Status) ([]*campaign.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*campaign.Campaign
	for _, c := range m.campaigns {
		if c.Status == st {
			out = append(out, c.Clone())
		}
	}
	sortByCreated(out)
	return out, nil
}

func (m *Memory) ListCampaigns(_ context.Context, page, size int) ([]*campaign.Campaign, int, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]*campaign.Campaign, 0, len(m.campaigns))
	for _, c := range m.campaigns {
		all = append(all, c.Clone())
	}
	sortByCreated(all)
	total := len(all)
	lo := (page - 1) * size
	if lo >= total {
		return nil, total, nil
	}
	hi := lo + size
	if hi > total {
		hi = total
	}
	return all[lo:hi], total, nil
}

func (m *Memory) DeleteCampaign(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.campaigns[id]; !ok {
		return campaign.ErrNotFound
	}
	delete(m.campaigns, id)
	return nil
}

func (m *Memory) AppendTargetLogs(_ context.Context, entries []campaign.TargetLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.nextLogID++
		e.ID = m.nextLogID
		if e.At.IsZero() {
			e.At = time.Now()
		}
		m.logs[e.CampaignID] = append(m.logs[e.CampaignID], e)
	}
	return nil
}

func (m *Memory) TargetLogsByCampaign(_ context.Context, id string) ([]campaign.TargetLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]campaign.TargetLog(nil), m.logs[id]...), nil
}

func (m *Memory) DeleteTargetLogs(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.logs, id)
	return nil
}

func (m *Memory) Close() error { return nil }

func sortByCreated(cs []*campaign.Campaign) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].ID < cs[j].ID
		}
		return cs[i].CreatedAt.Before(cs[j].CreatedAt)
	})
}
