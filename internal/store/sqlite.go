package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"blastbot/internal/campaign"
	"blastbot/internal/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SaveCampaign(ctx context.Context, c *campaign.Campaign) error {
	payload, err := json.Marshal(c.Payload)
	if err != nil {
		return err
	}
	targets, err := json.Marshal(c.Targets)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO campaigns(id, name, payload, targets, schedule, status,
		                       success_count, failure_count, next_run_at, last_run_at,
		                       last_error, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, payload=excluded.payload, targets=excluded.targets,
		   schedule=excluded.schedule, status=excluded.status,
		   success_count=excluded.success_count, failure_count=excluded.failure_count,
		   next_run_at=excluded.next_run_at, last_run_at=excluded.last_run_at,
		   last_error=excluded.last_error, updated_at=excluded.updated_at`,
		c.ID, c.Name, string(payload), string(targets), c.Schedule, string(c.Status),
		c.SuccessCount, c.FailureCount, nullTime(c.NextRunAt), nullTime(c.LastRunAt),
		nullStr(c.LastError), c.CreatedAt.Format(time.RFC3339Nano), c.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

const campaignCols = `id, name, payload, targets, schedule, status,
	success_count, failure_count, next_run_at, last_run_at, last_error, created_at, updated_at`

func (s *sqliteStore) CampaignByID(ctx context.Context, id string) (*campaign.Campaign, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+campaignCols+` FROM campaigns WHERE id = ?`, id)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrNotFound
	}
	return c, err
}

func (s *sqliteStore) CampaignsByStatus(ctx context.Context, st campaign.Status) ([]*campaign.Campaign, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+campaignCols+` FROM campaigns WHERE status = ? ORDER BY created_at`, string(st))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCampaigns(rows)
}

func (s *sqliteStore) ListCampaigns(ctx context.Context, page, size int) ([]*campaign.Campaign, int, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+campaignCols+` FROM campaigns ORDER BY created_at LIMIT ? OFFSET ?`,
		size, (page-1)*size)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	cs, err := collectCampaigns(rows)
	return cs, total, err
}

func (s *sqliteStore) DeleteCampaign(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM campaigns WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (s *sqliteStore) AppendTargetLogs(ctx context.Context, entries []campaign.TargetLog) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO target_logs(campaign_id, target, result, detail, at) VALUES(?,?,?,?,?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, e := range entries {
		at := e.At
		if at.IsZero() {
			at = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			e.CampaignID, e.Target, string(e.Result), nullStr(e.Detail), at.Format(time.RFC3339Nano)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) TargetLogsByCampaign(ctx context.Context, id string) ([]campaign.TargetLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, campaign_id, target, result, detail, at FROM target_logs WHERE campaign_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []campaign.TargetLog
	for rows.Next() {
		var (
			e      campaign.TargetLog
			result string
			detail sql.NullString
			at     string
		)
		if err := rows.Scan(&e.ID, &e.CampaignID, &e.Target, &result, &detail, &at); err != nil {
			return nil, err
		}
		e.Result = campaign.Result(result)
		e.Detail = detail.String
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteTargetLogs(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM target_logs WHERE campaign_id = ?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*campaign.Campaign, error) {
	var (
		c                 campaign.Campaign
		payload, targets  string
		status            string
		nextRun, lastRun  sql.NullString
		lastErr           sql.NullString
		created, updated  string
	)
	err := row.Scan(&c.ID, &c.Name, &payload, &targets, &c.Schedule, &status,
		&c.SuccessCount, &c.FailureCount, &nextRun, &lastRun, &lastErr, &created, &updated)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &c.Payload); err != nil {
		return nil, fmt.Errorf("campaign %s: bad payload column: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(targets), &c.Targets); err != nil {
		return nil, fmt.Errorf("campaign %s: bad targets column: %w", c.ID, err)
	}
	c.Status = campaign.Status(status)
	c.LastError = lastErr.String
	c.NextRunAt = parseNullTime(nextRun)
	c.LastRunAt = parseNullTime(lastRun)
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &c, nil
}

func collectCampaigns(rows *sql.Rows) ([]*campaign.Campaign, error) {
	var out []*campaign.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func parseNullTime(v sql.NullString) time.Time {
	if !v.Valid || v.String == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, v.String)
	return t
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
