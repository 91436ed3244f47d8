package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/giftflow/wishlist-pipeline/internal/domain"
)

// MockStore is a hand-written, in-memory implementation of Store used in
// unit tests. No mock-generation library needed. It reproduces the same
// atomicity guarantees as the Postgres store: CreateIfAbsent is a single
// insert-if-absent under one lock, and every mutation appends a change row.
type MockStore struct {
	mu         sync.RWMutex
	partitions int

	jobs          map[string]*domain.Job
	ingestions    map[string]*domain.IngestionRecord
	stageResults  []*domain.StageResult
	notifications map[string]*domain.Notification
	cursors       map[string]string // subject|connection -> last event id

	changes []*domain.Change
	nextSeq int64
	leases  map[int]*mockLease
}

type mockLease struct {
	owner      string
	leaseUntil time.Time
	checkpoint int64
}

func NewMockStore(partitions int) *MockStore {
	return &MockStore{
		partitions:    partitions,
		jobs:          make(map[string]*domain.Job),
		ingestions:    make(map[string]*domain.IngestionRecord),
		notifications: make(map[string]*domain.Notification),
		cursors:       make(map[string]string),
		leases:        make(map[int]*mockLease),
		nextSeq:       1,
	}
}

var _ Store = (*MockStore)(nil)

// appendChangeLocked mirrors the pg store's transactional change append.
// Callers must hold mu.
func (m *MockStore) appendChangeLocked(subjectID string, docType domain.ChangeDocType, docID string, doc any) {
	payload, _ := json.Marshal(doc)
	m.changes = append(m.changes, &domain.Change{
		Seq:       m.nextSeq,
		Partition: PartitionFor(subjectID, m.partitions),
		SubjectID: subjectID,
		DocType:   docType,
		DocID:     docID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
	m.nextSeq++
}

// ---- JobStore ----

func (m *MockStore) CreateIfAbsent(_ context.Context, job *domain.Job, rec *domain.IngestionRecord) (bool, *domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.jobs[job.Key]; ok {
		dup := *existing
		return false, &dup, nil
	}

	j := *job
	r := *rec
	m.jobs[job.Key] = &j
	m.ingestions[rec.ID] = &r
	m.appendChangeLocked(job.SubjectID, domain.ChangeDocJob, job.Key, job)
	m.appendChangeLocked(rec.SubjectID, domain.ChangeDocIngestion, rec.ID, rec)
	return true, &j, nil
}

func (m *MockStore) GetJob(_ context.Context, key string) (*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	dup := *j
	return &dup, nil
}

func (m *MockStore) SetJobStatus(_ context.Context, key string, status domain.JobStatus, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[key]
	if !ok {
		return domain.ErrNotFound
	}
	j.Status = status
	j.Error = errMsg
	j.UpdatedAt = time.Now().UTC()
	m.appendChangeLocked(j.SubjectID, domain.ChangeDocJob, key, j)
	return nil
}

func (m *MockStore) IncrementAttempts(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[key]
	if !ok {
		return domain.ErrNotFound
	}
	j.Attempts++
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// ---- StageResultStore ----

func (m *MockStore) AppendStageResult(_ context.Context, res *domain.StageResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := *res
	m.stageResults = append(m.stageResults, &r)
	m.appendChangeLocked(res.SubjectID, domain.ChangeDocStageResult, res.ID, res)
	return nil
}

func (m *MockStore) ListStageResults(_ context.Context, subjectID string) ([]*domain.StageResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.StageResult
	for _, r := range m.stageResults {
		if r.SubjectID == subjectID {
			dup := *r
			out = append(out, &dup)
		}
	}
	return out, nil
}

// ---- NotificationStore ----

func (m *MockStore) CreateNotification(_ context.Context, n *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dup := *n
	m.notifications[n.ID] = &dup
	m.appendChangeLocked(n.SubjectID, domain.ChangeDocNotification, n.ID, n)
	return nil
}

func (m *MockStore) GetNotification(_ context.Context, id string) (*domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.notifications[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	dup := *n
	return &dup, nil
}

func (m *MockStore) ListNotifications(_ context.Context, subjectID string) ([]*domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Notification
	for _, n := range m.notifications {
		if n.SubjectID == subjectID {
			dup := *n
			out = append(out, &dup)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MockStore) SetNotificationState(_ context.Context, id string, state domain.NotificationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	n.State = state
	return nil
}

// ---- StreamCursorStore ----

func (m *MockStore) RecordCursor(_ context.Context, subjectID, connectionID, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[subjectID+"|"+connectionID] = eventID
	return nil
}

// Cursor returns the recorded last event id for a connection (test helper).
func (m *MockStore) Cursor(subjectID, connectionID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cursors[subjectID+"|"+connectionID]
}

// ---- ChangeFeedStore ----

func (m *MockStore) AcquireLease(_ context.Context, partition int, owner string, ttl time.Duration) (bool, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	l, ok := m.leases[partition]
	if !ok {
		m.leases[partition] = &mockLease{owner: owner, leaseUntil: now.Add(ttl)}
		return true, 0, nil
	}
	if l.owner != owner && l.leaseUntil.After(now) {
		return false, 0, nil
	}
	l.owner = owner
	l.leaseUntil = now.Add(ttl)
	return true, l.checkpoint, nil
}

func (m *MockStore) ReadBatch(_ context.Context, partition int, afterSeq int64, limit int) ([]*domain.Change, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Change
	for _, c := range m.changes {
		if c.Partition == partition && c.Seq > afterSeq {
			dup := *c
			out = append(out, &dup)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MockStore) Checkpoint(_ context.Context, partition int, owner string, seq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leases[partition]
	if !ok || l.owner != owner || l.leaseUntil.Before(time.Now().UTC()) {
		return domain.ErrNotFound
	}
	l.checkpoint = seq
	return nil
}

// ---- test helpers ----

// IngestionCount reports how many ingestion records exist for a subject.
func (m *MockStore) IngestionCount(subjectID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, r := range m.ingestions {
		if r.SubjectID == subjectID {
			count++
		}
	}
	return count
}

// CheckpointFor reports the committed change-feed checkpoint for a partition.
func (m *MockStore) CheckpointFor(partition int) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l, ok := m.leases[partition]; ok {
		return l.checkpoint
	}
	return 0
}

// ChangeCount reports the total number of change-log rows.
func (m *MockStore) ChangeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.changes)
}
