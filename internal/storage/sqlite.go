package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"schedhub/internal/apperr"
	logx "schedhub/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, apperr.E(apperr.KindStorage, "sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, err, "create data dir")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, err, "open sqlite")
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, apperr.Wrap(apperr.KindStorage, err, "migrate")
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

// ---- plans ----

func (s *sqliteStore) PutPlan(ctx context.Context, p PlanRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plans(guid, label, plan_json, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(guid) DO UPDATE SET label=excluded.label, plan_json=excluded.plan_json`,
		p.Guid, p.Label, string(p.PlanJSON), p.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "put plan %s", p.Guid)
	}
	return nil
}

func (s *sqliteStore) GetPlan(ctx context.Context, guid string) (PlanRecord, error) {
	var (
		p  PlanRecord
		js string
		ms int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT guid, label, plan_json, created_at FROM plans WHERE guid = ?`, guid,
	).Scan(&p.Guid, &p.Label, &js, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return PlanRecord{}, apperr.E(apperr.KindNotFound, "plan %s not found", guid)
	}
	if err != nil {
		return PlanRecord{}, apperr.Wrap(apperr.KindStorage, err, "get plan %s", guid)
	}
	p.PlanJSON = []byte(js)
	p.CreatedAt = time.UnixMilli(ms).UTC()
	return p, nil
}

func (s *sqliteStore) ListPlans(ctx context.Context) ([]PlanRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT guid, label, plan_json, created_at FROM plans ORDER BY created_at, guid`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, err, "list plans")
	}
	defer rows.Close()

	var out []PlanRecord
	for rows.Next() {
		var (
			p  PlanRecord
			js string
			ms int64
		)
		if err := rows.Scan(&p.Guid, &p.Label, &js, &ms); err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, err, "scan plan")
		}
		p.PlanJSON = []byte(js)
		p.CreatedAt = time.UnixMilli(ms).UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, err, "list plans")
	}
	return out, nil
}

func (s *sqliteStore) DeletePlan(ctx context.Context, guid string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "begin delete plan")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM plans WHERE guid = ?`, guid)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "delete plan %s", guid)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.E(apperr.KindNotFound, "plan %s not found", guid)
	}

	// Keep terminal instances (finished, or already expired) as history.
	_, err = tx.ExecContext(ctx,
		`DELETE FROM activities
		 WHERE plan_guid = ? AND finished_on IS NULL
		   AND (expires_on IS NULL OR expires_on > ?)`,
		guid, now.UnixMilli(),
	)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "delete plan instances %s", guid)
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "commit delete plan %s", guid)
	}
	return nil
}

// ---- activities ----

func (s *sqliteStore) UpsertActivity(ctx context.Context, rec ActivityRecord) (ActivityRecord, error) {
	// The occurrence key is unique; a concurrent insert of the same occurrence
	// lands on the conflict branch. Lifecycle timestamps are never touched
	// here, and finished instances are not refreshed at all.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activities(guid, user_id, plan_guid, task_id, label, activity_json, scheduled_on, expires_on)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(user_id, plan_guid, task_id, scheduled_on) DO UPDATE SET
		   label = excluded.label,
		   activity_json = excluded.activity_json,
		   expires_on = excluded.expires_on
		 WHERE activities.finished_on IS NULL`,
		rec.Guid, rec.User, rec.PlanGuid, rec.TaskID, rec.Label, string(rec.ActivityJSON),
		rec.ScheduledOn.UnixMilli(), msOrNil(rec.ExpiresOn),
	)
	if err != nil {
		return ActivityRecord{}, apperr.Wrap(apperr.KindStorage, err, "upsert activity %s", rec.Guid)
	}
	return s.GetActivity(ctx, rec.Guid)
}

const activityCols = `seq, guid, user_id, plan_guid, task_id, label, activity_json, scheduled_on, expires_on, started_on, finished_on`

func scanActivity(row interface{ Scan(...any) error }) (ActivityRecord, error) {
	var (
		rec                       ActivityRecord
		js                        string
		schedMs                   int64
		expMs, startMs, finishMs  sql.NullInt64
	)
	err := row.Scan(&rec.Seq, &rec.Guid, &rec.User, &rec.PlanGuid, &rec.TaskID, &rec.Label,
		&js, &schedMs, &expMs, &startMs, &finishMs)
	if err != nil {
		return ActivityRecord{}, err
	}
	rec.ActivityJSON = []byte(js)
	rec.ScheduledOn = time.UnixMilli(schedMs).UTC()
	rec.ExpiresOn = msPtr(expMs)
	rec.StartedOn = msPtr(startMs)
	rec.FinishedOn = msPtr(finishMs)
	return rec, nil
}

func (s *sqliteStore) GetActivity(ctx context.Context, guid string) (ActivityRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+activityCols+` FROM activities WHERE guid = ?`, guid)
	rec, err := scanActivity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ActivityRecord{}, apperr.E(apperr.KindNotFound, "activity %s not found", guid)
	}
	if err != nil {
		return ActivityRecord{}, apperr.Wrap(apperr.KindStorage, err, "get activity %s", guid)
	}
	return rec, nil
}

func (s *sqliteStore) ListActivities(ctx context.Context, user string, f ActivityFilter) ([]ActivityRecord, error) {
	q := `SELECT ` + activityCols + ` FROM activities WHERE user_id = ?`
	args := []any{user}

	if f.PlanGuid != "" {
		q += ` AND plan_guid = ?`
		args = append(args, f.PlanGuid)
	}
	if f.ActiveOnly {
		now := f.Now
		if now.IsZero() {
			now = time.Now()
		}
		q += ` AND finished_on IS NULL AND (expires_on IS NULL OR expires_on > ?)`
		args = append(args, now.UnixMilli())
	}
	if f.AfterKey != 0 || f.AfterSeq != 0 {
		q += ` AND (scheduled_on > ? OR (scheduled_on = ? AND seq > ?))`
		args = append(args, f.AfterKey, f.AfterKey, f.AfterSeq)
	}
	q += ` ORDER BY scheduled_on, seq`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, err, "list activities")
	}
	defer rows.Close()

	var out []ActivityRecord
	for rows.Next() {
		rec, err := scanActivity(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, err, "scan activity")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, err, "list activities")
	}
	return out, nil
}

func (s *sqliteStore) SetActivityTimes(ctx context.Context, guid string, startedOn, finishedOn *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE activities SET
		   started_on = COALESCE(?, started_on),
		   finished_on = COALESCE(?, finished_on)
		 WHERE guid = ?`,
		msOrNil(startedOn), msOrNil(finishedOn), guid,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "update activity %s", guid)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.E(apperr.KindNotFound, "activity %s not found", guid)
	}
	return nil
}

func (s *sqliteStore) DeleteActivitiesForPlan(ctx context.Context, planGuid string) (int64, error) {
	return s.deleteActivities(ctx, `plan_guid = ?`, planGuid)
}

func (s *sqliteStore) DeleteActivitiesForUser(ctx context.Context, user string) (int64, error) {
	return s.deleteActivities(ctx, `user_id = ?`, user)
}

func (s *sqliteStore) deleteActivities(ctx context.Context, where string, arg any) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorage, err, "begin bulk delete")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE `+where, arg)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorage, err, "bulk delete activities")
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, apperr.Wrap(apperr.KindStorage, err, "commit bulk delete")
	}
	return n, nil
}

// ---- documentation ----

func (s *sqliteStore) PutDoc(ctx context.Context, d DocRecord) error {
	if d.ModifiedAt.IsZero() {
		d.ModifiedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO docs(identifier, parent_id, title, documentation, modified_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(identifier) DO UPDATE SET
		   parent_id = excluded.parent_id,
		   title = excluded.title,
		   documentation = excluded.documentation,
		   modified_at = excluded.modified_at`,
		d.Identifier, d.ParentID, d.Title, d.Documentation, d.ModifiedAt.UnixMilli(),
	)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "put doc %s", d.Identifier)
	}
	return nil
}

func (s *sqliteStore) GetDoc(ctx context.Context, identifier string) (DocRecord, error) {
	var (
		d  DocRecord
		ms int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT seq, identifier, parent_id, title, documentation, modified_at FROM docs WHERE identifier = ?`,
		identifier,
	).Scan(&d.Seq, &d.Identifier, &d.ParentID, &d.Title, &d.Documentation, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return DocRecord{}, apperr.E(apperr.KindNotFound, "documentation %s not found", identifier)
	}
	if err != nil {
		return DocRecord{}, apperr.Wrap(apperr.KindStorage, err, "get doc %s", identifier)
	}
	d.ModifiedAt = time.UnixMilli(ms).UTC()
	return d, nil
}

func (s *sqliteStore) ListDocs(ctx context.Context, parentID string, afterSeq int64, limit int) ([]DocRecord, error) {
	q := `SELECT seq, identifier, parent_id, title, documentation, modified_at
	      FROM docs WHERE parent_id = ? AND seq > ? ORDER BY seq`
	args := []any{parentID, afterSeq}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, err, "list docs")
	}
	defer rows.Close()

	var out []DocRecord
	for rows.Next() {
		var (
			d  DocRecord
			ms int64
		)
		if err := rows.Scan(&d.Seq, &d.Identifier, &d.ParentID, &d.Title, &d.Documentation, &ms); err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, err, "scan doc")
		}
		d.ModifiedAt = time.UnixMilli(ms).UTC()
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, err, "list docs")
	}
	return out, nil
}

func (s *sqliteStore) DeleteDoc(ctx context.Context, identifier string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM docs WHERE identifier = ?`, identifier)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "delete doc %s", identifier)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.E(apperr.KindNotFound, "documentation %s not found", identifier)
	}
	return nil
}

func (s *sqliteStore) DeleteDocsForParent(ctx context.Context, parentID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorage, err, "begin delete docs")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM docs WHERE parent_id = ?`, parentID)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorage, err, "delete docs for parent %s", parentID)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, apperr.Wrap(apperr.KindStorage, err, "commit delete docs")
	}
	return n, nil
}

// ---- maintenance ----

func (s *sqliteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM plans), (SELECT COUNT(*) FROM activities), (SELECT COUNT(*) FROM docs)`)
	if err := row.Scan(&st.Plans, &st.Activities, &st.Docs); err != nil {
		return Stats{}, apperr.Wrap(apperr.KindStorage, err, "stats")
	}
	return st, nil
}

func (s *sqliteStore) Maintenance(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "wal checkpoint")
	}
	if _, err := s.db.ExecContext(ctx, `PRAGMA optimize`); err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "optimize")
	}
	return nil
}

// ---- helpers ----

func msOrNil(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func msPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
