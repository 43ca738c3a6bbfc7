package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"blastbot/internal/campaign"
	"blastbot/internal/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "blastbot.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sampleCampaign(id string, created time.Time) *campaign.Campaign {
	return &campaign.Campaign{
		ID:   id,
		Name: "promo " + id,
		Payload: campaign.Payload{
			Kind:    campaign.PayloadImage,
			Ref:     "https://cdn.example.com/banner.png",
			Caption: "new release",
		},
		Targets:      []string{"@alice", "-100123456789", "42"},
		Schedule:     "0 9 * * MON",
		Status:       campaign.StatusPending,
		SuccessCount: 7,
		FailureCount: 2,
		NextRunAt:    created.Add(time.Hour),
		LastRunAt:    created.Add(-time.Hour),
		LastError:    "",
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

func TestSQLiteCampaignRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	created := time.Now().Round(0) // strip the monotonic reading
	want := sampleCampaign("c1", created)
	if err := st.SaveCampaign(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := st.CampaignByID(ctx, "c1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Name != want.Name || got.Schedule != want.Schedule || got.Status != want.Status {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
	if got.Payload != want.Payload {
		t.Fatalf("payload = %+v, want %+v", got.Payload, want.Payload)
	}
	if len(got.Targets) != 3 || got.Targets[0] != "@alice" {
		t.Fatalf("targets = %v", got.Targets)
	}
	if got.SuccessCount != 7 || got.FailureCount != 2 {
		t.Fatalf("counters = %d/%d", got.SuccessCount, got.FailureCount)
	}
	if !got.NextRunAt.Equal(want.NextRunAt) || !got.LastRunAt.Equal(want.LastRunAt) {
		t.Fatalf("times = %v / %v, want %v / %v", got.NextRunAt, got.LastRunAt, want.NextRunAt, want.LastRunAt)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
}

func TestSQLiteSaveIsUpsert(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	c := sampleCampaign("c1", time.Now().Round(0))
	if err := st.SaveCampaign(ctx, c); err != nil {
		t.Fatalf("save: %v", err)
	}
	c.Status = campaign.StatusFailed
	c.LastError = "sender exploded"
	c.NextRunAt = time.Time{}
	if err := st.SaveCampaign(ctx, c); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := st.CampaignByID(ctx, "c1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Status != campaign.StatusFailed || got.LastError != "sender exploded" {
		t.Fatalf("update not applied: %+v", got)
	}
	if !got.NextRunAt.IsZero() {
		t.Fatalf("next_run_at = %v, want zero", got.NextRunAt)
	}
	if _, total, err := st.ListCampaigns(ctx, 1, 10); err != nil || total != 1 {
		t.Fatalf("total = %d (err %v), want 1 row after upsert", total, err)
	}
}

func TestSQLiteCampaignNotFound(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.CampaignByID(ctx, "ghost"); !errors.Is(err, campaign.ErrNotFound) {
		t.Fatalf("lookup = %v, want ErrNotFound", err)
	}
	if err := st.DeleteCampaign(ctx, "ghost"); !errors.Is(err, campaign.ErrNotFound) {
		t.Fatalf("delete = %v, want ErrNotFound", err)
	}
}

func TestSQLiteListPaging(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Round(0)
	for i := 0; i < 5; i++ {
		c := sampleCampaign(fmt.Sprintf("c%d", i), base.Add(time.Duration(i)*time.Second))
		if err := st.SaveCampaign(ctx, c); err != nil {
			t.Fatalf("save c%d: %v", i, err)
		}
	}

	page1, total, err := st.ListCampaigns(ctx, 1, 2)
	if err != nil {
		t.Fatalf("list page 1: %v", err)
	}
	if total != 5 || len(page1) != 2 {
		t.Fatalf("page 1 = %d rows (total %d), want 2 of 5", len(page1), total)
	}
	if page1[0].ID != "c0" || page1[1].ID != "c1" {
		t.Fatalf("page 1 order = %s,%s, want c0,c1", page1[0].ID, page1[1].ID)
	}

	page3, _, err := st.ListCampaigns(ctx, 3, 2)
	if err != nil {
		t.Fatalf("list page 3: %v", err)
	}
	if len(page3) != 1 || page3[0].ID != "c4" {
		t.Fatalf("page 3 = %v, want just c4", page3)
	}

	empty, total, err := st.ListCampaigns(ctx, 9, 2)
	if err != nil {
		t.Fatalf("list past end: %v", err)
	}
	if total != 5 || len(empty) != 0 {
		t.Fatalf("past-end page = %d rows, want 0", len(empty))
	}
}

func TestSQLiteCampaignsByStatus(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Round(0)
	statuses := []campaign.Status{
		campaign.StatusPending, campaign.StatusRunning,
		campaign.StatusRunning, campaign.StatusPaused,
	}
	for i, s := range statuses {
		c := sampleCampaign(fmt.Sprintf("c%d", i), base.Add(time.Duration(i)*time.Second))
		c.Status = s
		if err := st.SaveCampaign(ctx, c); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	running, err := st.CampaignsByStatus(ctx, campaign.StatusRunning)
	if err != nil {
		t.Fatalf("by status: %v", err)
	}
	if len(running) != 2 || running[0].ID != "c1" || running[1].ID != "c2" {
		t.Fatalf("running = %v, want c1,c2 in creation order", running)
	}
}

func TestSQLiteTargetLogs(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	at := time.Now().Round(0)
	entries := []campaign.TargetLog{
		{CampaignID: "c1", Target: "@alice", Result: campaign.ResultSuccess, At: at},
		{CampaignID: "c1", Target: "@bob", Result: campaign.ResultFailed, Detail: "blocked by peer", At: at},
		{CampaignID: "c2", Target: "@carol", Result: campaign.ResultSuccess, At: at},
	}
	if err := st.AppendTargetLogs(ctx, entries); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := st.AppendTargetLogs(ctx, nil); err != nil {
		t.Fatalf("append empty batch: %v", err)
	}

	logs, err := st.TargetLogsByCampaign(ctx, "c1")
	if err != nil {
		t.Fatalf("load logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("log count = %d, want 2", len(logs))
	}
	if logs[0].Target != "@alice" || logs[1].Target != "@bob" {
		t.Fatalf("log order = %s,%s", logs[0].Target, logs[1].Target)
	}
	if logs[0].ID == 0 || logs[1].ID <= logs[0].ID {
		t.Fatalf("log ids not monotonic: %d, %d", logs[0].ID, logs[1].ID)
	}
	if logs[1].Detail != "blocked by peer" {
		t.Fatalf("detail = %q", logs[1].Detail)
	}
	if !logs[0].At.Equal(at) {
		t.Fatalf("at = %v, want %v", logs[0].At, at)
	}

	if err := st.DeleteTargetLogs(ctx, "c1"); err != nil {
		t.Fatalf("delete logs: %v", err)
	}
	logs, err = st.TargetLogsByCampaign(ctx, "c1")
	if err != nil {
		t.Fatalf("reload logs: %v", err)
	}
	if len(logs) != 0 {
		t.Fatalf("log count after delete = %d, want 0", len(logs))
	}
	other, err := st.TargetLogsByCampaign(ctx, "c2")
	if err != nil || len(other) != 1 {
		t.Fatalf("c2 logs = %d (err %v), want 1 untouched", len(other), err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("want error for unsupported driver")
	}
}

func TestOpenMemoryDriver(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	defer st.Close()
	if _, err := st.CampaignByID(context.Background(), "x"); !errors.Is(err, campaign.ErrNotFound) {
		t.Fatalf("lookup = %v, want ErrNotFound", err)
	}
}
