package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"remindd/internal/reminder"
	"remindd/internal/trigger"
	logx "remindd/pkg/logx"
)

const compactEvery = 500

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot)
//   - <prefix>.journal.jsonl (append-only journal)
//
// Reads are served from memory. Every mutation is appended to the journal
// before it becomes visible; the journal is compacted into the snapshot
// every compactEvery writes and on Close.
type fileStore struct {
	mem *memStore
	log logx.Logger

	mu           sync.Mutex
	snapshotPath string
	journal      *os.File
	writes       int
}

const (
	opPutTask       = "task.put"
	opUpdateTask    = "task.update"
	opDeleteTask    = "task.delete"
	opPutTrigger    = "trigger.put"
	opDeleteTrigger = "trigger.delete"
)

type journalRecord struct {
	Op      string                  `json:"op"`
	ID      string                  `json:"id,omitempty"`
	Task    *reminder.ScheduledTask `json:"task,omitempty"`
	Update  *updateRecord           `json:"update,omitempty"`
	Trigger *triggerRecord          `json:"trigger,omitempty"`
}

type updateRecord struct {
	Handles   []trigger.Handle `json:"handles"`
	Status    reminder.Status  `json:"status"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type triggerRecord struct {
	Handle      trigger.Handle  `json:"handle"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	FireAt      time.Time       `json:"fire_at"`
	Payload     trigger.Payload `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

func toTriggerRecord(d trigger.Definition) *triggerRecord {
	return &triggerRecord{Handle: d.Handle, Name: d.Name, Description: d.Description, FireAt: d.FireAt, Payload: d.Payload, CreatedAt: d.CreatedAt}
}

func (r *triggerRecord) definition() trigger.Definition {
	return trigger.Definition{Handle: r.Handle, Name: r.Name, Description: r.Description, FireAt: r.FireAt, Payload: r.Payload, CreatedAt: r.CreatedAt}
}

type snapshot struct {
	Tasks    []*reminder.ScheduledTask `json:"tasks"`
	Triggers []*triggerRecord          `json:"triggers"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	mem := newMemStore()
	if err := loadSnapshot(snapPath, mem); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	skipped, err := replayJournal(journalPath, mem)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if skipped > 0 {
		log.Warn("skipped unreadable journal records", logx.String("path", journalPath), logx.Int("count", skipped))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s := &fileStore{mem: mem, log: log, snapshotPath: snapPath, journal: jf}

	// Start from a clean journal so replay cost stays bounded.
	s.mu.Lock()
	err = s.compactLocked()
	s.mu.Unlock()
	if err != nil {
		_ = jf.Close()
		return nil, err
	}
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	_ = s.mem.Close()
	return err
}

// appendLocked writes r to the journal and applies it in memory.
func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journal == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	if err := applyRecord(s.mem, r); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Insert(_ context.Context, t *reminder.ScheduledTask) (string, error) {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: opPutTask, ID: id, Task: t.Clone()}); err != nil {
		return "", err
	}
	return id, nil
}

func (s *fileStore) Get(ctx context.Context, id string) (*reminder.ScheduledTask, bool, error) {
	return s.mem.Get(ctx, id)
}

func (s *fileStore) Update(ctx context.Context, id string, u reminder.TaskUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok, err := s.mem.Get(ctx, id); err != nil {
		return err
	} else if !ok {
		return reminder.ErrNotFound
	}
	return s.appendLocked(journalRecord{Op: opUpdateTask, ID: id, Update: &updateRecord{Handles: u.Handles, Status: u.Status, UpdatedAt: u.UpdatedAt}})
}

func (s *fileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok, err := s.mem.Get(ctx, id); err != nil || !ok {
		return err
	}
	return s.appendLocked(journalRecord{Op: opDeleteTask, ID: id})
}

func (s *fileStore) List(ctx context.Context, f reminder.Filter) ([]*reminder.ScheduledTask, error) {
	return s.mem.List(ctx, f)
}

func (s *fileStore) SaveTrigger(_ context.Context, d trigger.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(journalRecord{Op: opPutTrigger, Trigger: toTriggerRecord(d)})
}

func (s *fileStore) DeleteTrigger(_ context.Context, h trigger.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(journalRecord{Op: opDeleteTrigger, ID: string(h)})
}

func (s *fileStore) LoadTriggers(ctx context.Context) ([]trigger.Definition, error) {
	return s.mem.LoadTriggers(ctx)
}

func (s *fileStore) compactLocked() error {
	s.mem.mu.RLock()
	snap := snapshot{
		Tasks:    make([]*reminder.ScheduledTask, 0, len(s.mem.tasks)),
		Triggers: make([]*triggerRecord, 0, len(s.mem.triggers)),
	}
	for _, t := range s.mem.tasks {
		snap.Tasks = append(snap.Tasks, t.Clone())
	}
	for _, d := range s.mem.triggers {
		snap.Triggers = append(snap.Triggers, toTriggerRecord(d))
	}
	s.mem.mu.RUnlock()
	sortTasks(snap.Tasks)

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func applyRecord(m *memStore, r journalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch r.Op {
	case opPutTask:
		if r.Task == nil {
			return errors.New("journal: task.put without task")
		}
		c := r.Task.Clone()
		c.ID = r.ID
		m.tasks[r.ID] = c
	case opUpdateTask:
		t, ok := m.tasks[r.ID]
		if !ok || r.Update == nil {
			return nil
		}
		applyUpdate(t, reminder.TaskUpdate{Handles: r.Update.Handles, Status: r.Update.Status, UpdatedAt: r.Update.UpdatedAt})
	case opDeleteTask:
		delete(m.tasks, r.ID)
	case opPutTrigger:
		if r.Trigger == nil {
			return errors.New("journal: trigger.put without trigger")
		}
		m.triggers[r.Trigger.Handle] = r.Trigger.definition()
	case opDeleteTrigger:
		delete(m.triggers, trigger.Handle(r.ID))
	default:
		return errors.New("journal: unknown op " + r.Op)
	}
	return nil
}

func loadSnapshot(path string, m *memStore) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, t := range snap.Tasks {
		if t != nil && t.ID != "" {
			m.tasks[t.ID] = t
		}
	}
	for _, r := range snap.Triggers {
		if r != nil && r.Handle != "" {
			m.triggers[r.Handle] = r.definition()
		}
	}
	return nil
}

// replayJournal applies journal records in order. A torn last line from a
// crash mid-write is counted as skipped, not fatal.
func replayJournal(path string, m *memStore) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			skipped++
			continue
		}
		if err := applyRecord(m, r); err != nil {
			skipped++
		}
	}
	return skipped, sc.Err()
}
