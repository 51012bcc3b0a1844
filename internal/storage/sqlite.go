package storage

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

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"remindd/internal/reminder"
	"remindd/internal/trigger"
	logx "remindd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const defaultBusyTimeout = 5 * time.Second

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

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
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

func (s *sqliteStore) Close() error { return s.db.Close() }

const taskColumns = `id, owner_id, context_id, recipient_name, recipient_contact, task_label,
	task_description, target_at, offsets, handles, status, created_at, updated_at`

func (s *sqliteStore) Insert(ctx context.Context, t *reminder.ScheduledTask) (string, error) {
	offsets, err := json.Marshal(t.Offsets)
	if err != nil {
		return "", err
	}
	handles, err := marshalHandles(t.TriggerHandles)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks(`+taskColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, t.OwnerID, t.ContextID, nullStr(t.RecipientName), t.RecipientContact, nullStr(t.TaskLabel),
		t.TaskDescription, dbTime(t.TargetAt), string(offsets), handles, string(t.Status),
		dbTime(t.CreatedAt), dbTime(t.UpdatedAt),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (*reminder.ScheduledTask, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

func (s *sqliteStore) Update(ctx context.Context, id string, u reminder.TaskUpdate) error {
	handles, err := marshalHandles(u.Handles)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET handles = ?, status = ?, updated_at = ? WHERE id = ?`,
		handles, string(u.Status), dbTime(u.UpdatedAt), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return reminder.ErrNotFound
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) List(ctx context.Context, f reminder.Filter) ([]*reminder.ScheduledTask, error) {
	var (
		where []string
		args  []any
	)
	if f.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.ContextID != "" {
		where = append(where, "context_id = ?")
		args = append(args, f.ContextID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	q := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY target_at, id`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*reminder.ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveTrigger(ctx context.Context, d trigger.Definition) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO triggers(handle, name, description, fire_at, contact, message, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(handle) DO UPDATE SET name = excluded.name, description = excluded.description,
		   fire_at = excluded.fire_at, contact = excluded.contact, message = excluded.message`,
		string(d.Handle), d.Name, nullStr(d.Description), dbTime(d.FireAt),
		d.Payload.Contact, d.Payload.Message, dbTime(d.CreatedAt),
	)
	return err
}

func (s *sqliteStore) DeleteTrigger(ctx context.Context, h trigger.Handle) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM triggers WHERE handle = ?`, string(h))
	return err
}

func (s *sqliteStore) LoadTriggers(ctx context.Context) ([]trigger.Definition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT handle, name, description, fire_at, contact, message, created_at FROM triggers ORDER BY fire_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []trigger.Definition
	for rows.Next() {
		var (
			d                 trigger.Definition
			handle            string
			desc              sql.NullString
			fireAt, createdAt string
		)
		if err := rows.Scan(&handle, &d.Name, &desc, &fireAt, &d.Payload.Contact, &d.Payload.Message, &createdAt); err != nil {
			return nil, err
		}
		d.Handle = trigger.Handle(handle)
		d.Description = desc.String
		if d.FireAt, err = parseDBTime(fireAt); err != nil {
			return nil, fmt.Errorf("trigger %s fire_at: %w", handle, err)
		}
		if d.CreatedAt, err = parseDBTime(createdAt); err != nil {
			return nil, fmt.Errorf("trigger %s created_at: %w", handle, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (*reminder.ScheduledTask, error) {
	var (
		t                            reminder.ScheduledTask
		name, label                  sql.NullString
		targetAt, createdAt, updated string
		offsets, handles, status     string
	)
	if err := r.Scan(&t.ID, &t.OwnerID, &t.ContextID, &name, &t.RecipientContact, &label,
		&t.TaskDescription, &targetAt, &offsets, &handles, &status, &createdAt, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(offsets), &t.Offsets); err != nil {
		return nil, fmt.Errorf("task %s offsets: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(handles), &t.TriggerHandles); err != nil {
		return nil, fmt.Errorf("task %s handles: %w", t.ID, err)
	}
	t.RecipientName = name.String
	t.TaskLabel = label.String
	t.Status = reminder.Status(status)
	var err error
	if t.TargetAt, err = parseDBTime(targetAt); err != nil {
		return nil, fmt.Errorf("task %s target_at: %w", t.ID, err)
	}
	if t.CreatedAt, err = parseDBTime(createdAt); err != nil {
		return nil, fmt.Errorf("task %s created_at: %w", t.ID, err)
	}
	if t.UpdatedAt, err = parseDBTime(updated); err != nil {
		return nil, fmt.Errorf("task %s updated_at: %w", t.ID, err)
	}
	return &t, nil
}

func marshalHandles(hs []trigger.Handle) (string, error) {
	if hs == nil {
		hs = []trigger.Handle{}
	}
	b, err := json.Marshal(hs)
	return string(b), err
}

// dbTimeLayout is fixed-width so TEXT order matches time order for years 0000-9999.
const dbTimeLayout = "2006-01-02T15:04:05.000000000Z"

func dbTime(t time.Time) string { return t.UTC().Format(dbTimeLayout) }

func parseDBTime(s string) (time.Time, error) { return time.ParseInLocation(dbTimeLayout, s, time.UTC) }

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
