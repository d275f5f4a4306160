package attendance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chapel/internal/directory"
	"chapel/internal/schedule"
)

// ── in-memory Store ──

type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	uploads  map[string]Upload
	rows     map[string][]Row
	batches  map[string]Batch
	versions []BatchVersion

	failInsertVersion error
	failMarkConfirmed error
}

func newMemStore() *memStore {
	return &memStore{
		uploads: make(map[string]Upload),
		rows:    make(map[string][]Row),
		batches: make(map[string]Batch),
	}
}

func (m *memStore) FindLiveUploadByHash(_ context.Context, serviceID, levelID, hash string) (*Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.uploads {
		if u.ServiceID == serviceID && u.LevelID == levelID && u.FileHash == hash && u.State != StateCanceled {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

func (m *memStore) CreateStagedUpload(_ context.Context, u Upload, rows []Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.uploads {
		if other.ServiceID == u.ServiceID && other.LevelID == u.LevelID && other.FileHash == u.FileHash && other.State != StateCanceled {
			return errors.New("duplicate live upload")
		}
	}
	m.uploads[u.ID] = u
	m.rows[u.ID] = append([]Row(nil), rows...)
	return nil
}

func (m *memStore) GetUpload(_ context.Context, id string) (*Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.uploads[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *memStore) ListRows(_ context.Context, uploadID string) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Row(nil), m.rows[uploadID]...), nil
}

func (m *memStore) ListBatchVersions(_ context.Context, batchID string) ([]BatchVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []BatchVersion
	for _, v := range m.versions {
		if v.BatchID == batchID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (m *memStore) CurrentVersionsForService(_ context.Context, serviceID string) ([]BatchVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []BatchVersion
	for _, v := range m.versions {
		if v.ServiceID == serviceID && v.IsCurrent {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *memStore) InTx(_ context.Context, fn func(tx Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	uploads := make(map[string]Upload, len(m.uploads))
	for k, v := range m.uploads {
		uploads[k] = v
	}
	rows := make(map[string][]Row, len(m.rows))
	for k, v := range m.rows {
		rows[k] = v
	}
	batches := make(map[string]Batch, len(m.batches))
	for k, v := range m.batches {
		batches[k] = v
	}
	versions := append([]BatchVersion(nil), m.versions...)
	m.mu.Unlock()

	if err := fn(&memTx{m: m}); err != nil {
		m.mu.Lock()
		m.uploads, m.rows, m.batches, m.versions = uploads, rows, batches, versions
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) versionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.versions)
}

type memTx struct {
	m *memStore
}

func (t *memTx) LockUpload(ctx context.Context, id string) (*Upload, error) {
	return t.m.GetUpload(ctx, id)
}

func (t *memTx) ListRows(ctx context.Context, uploadID string) ([]Row, error) {
	return t.m.ListRows(ctx, uploadID)
}

func (t *memTx) ReplaceRows(_ context.Context, uploadID string, rows []Row) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.m.rows[uploadID] = append([]Row(nil), rows...)
	return nil
}

func (t *memTx) EnsureBatch(_ context.Context, serviceID, levelID string) (string, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for id, b := range t.m.batches {
		if b.ServiceID == serviceID && b.LevelID == levelID {
			return id, nil
		}
	}
	id := uuid.NewString()
	t.m.batches[id] = Batch{ID: id, ServiceID: serviceID, LevelID: levelID}
	return id, nil
}

func (t *memTx) NextVersion(_ context.Context, batchID string) (int, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	max := 0
	for _, v := range t.m.versions {
		if v.BatchID == batchID && v.Version > max {
			max = v.Version
		}
	}
	return max + 1, nil
}

func (t *memTx) InsertCurrentVersion(_ context.Context, v BatchVersion) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for i := range t.m.versions {
		if t.m.versions[i].BatchID == v.BatchID {
			t.m.versions[i].IsCurrent = false
		}
	}
	if t.m.failInsertVersion != nil {
		return t.m.failInsertVersion
	}
	t.m.versions = append(t.m.versions, v)
	return nil
}

func (t *memTx) MarkConfirmed(_ context.Context, u Upload) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.m.failMarkConfirmed != nil {
		return t.m.failMarkConfirmed
	}
	if t.m.uploads[u.ID].State != StateStaged {
		return fmt.Errorf("upload %s changed state concurrently", u.ID)
	}
	t.m.uploads[u.ID] = u
	return nil
}

func (t *memTx) MarkCanceled(_ context.Context, id, actorID string, at time.Time) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	u := t.m.uploads[id]
	u.State = StateCanceled
	u.CanceledBy = &actorID
	u.CanceledAt = &at
	t.m.uploads[id] = u
	return nil
}

// ── fake directory and services ──

type fakeDirectory struct {
	mu       sync.Mutex
	students map[string]directory.Student
}

func newFakeDirectory(students ...directory.Student) *fakeDirectory {
	d := &fakeDirectory{students: make(map[string]directory.Student)}
	for _, s := range students {
		d.students[s.ID] = s
	}
	return d
}

func (d *fakeDirectory) set(s directory.Student) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.students[s.ID] = s
}

func (d *fakeDirectory) FindActiveStudentsByLevel(_ context.Context, levelID string) ([]directory.Student, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []directory.Student
	for _, s := range d.students {
		if s.LevelID == levelID && s.Active() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatricNumber < out[j].MatricNumber })
	return out, nil
}

func (d *fakeDirectory) FindStudentByIdentifier(_ context.Context, idOrMatric string) (*directory.Student, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := directory.NormalizeIdentifier(idOrMatric)
	for _, s := range d.students {
		if strings.EqualFold(s.ID, key) || strings.EqualFold(s.MatricNumber, key) {
			s := s
			return &s, nil
		}
	}
	return nil, nil
}

func (d *fakeDirectory) ListActiveStudents(_ context.Context) ([]directory.Student, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []directory.Student
	for _, s := range d.students {
		if s.Active() {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeServices map[string]schedule.Service

func (f fakeServices) GetService(_ context.Context, id string) (*schedule.Service, error) {
	s, ok := f[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f fakeServices) ListCompletedServices(_ context.Context, from, to time.Time) ([]schedule.Service, error) {
	var out []schedule.Service
	for _, s := range f {
		if s.Status == schedule.StatusCompleted && !s.Date.Before(from) && !s.Date.After(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeArchive struct {
	puts map[string][]byte
	err  error
}

func (a *fakeArchive) Put(_ context.Context, name string, content []byte) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	if a.puts == nil {
		a.puts = make(map[string][]byte)
	}
	a.puts[name] = content
	return "archive/" + name, nil
}
