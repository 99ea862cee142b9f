package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/your-org/kiosk/internal/models"
)

// MemoryStore is an in-process implementation of the Postgres repositories,
// used by tests and by kiosks running without a database.
type MemoryStore struct {
	mu         sync.RWMutex
	students   map[string]models.Student
	cards      map[string]models.RFIDCard
	history    map[string][]models.PointAdjustment
	vectors    [][]float32
	identities []string
	attendance map[string]map[string]models.AttendanceRecord
	now        func() time.Time

	// FailPut makes Put return this error when set.
	FailPut error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		students:   make(map[string]models.Student),
		cards:      make(map[string]models.RFIDCard),
		history:    make(map[string][]models.PointAdjustment),
		attendance: make(map[string]map[string]models.AttendanceRecord),
		now:        time.Now,
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

// --- Students ---

func (m *MemoryStore) CreateStudent(_ context.Context, st models.Student) (*models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.students[st.Name]; ok {
		return nil, fmt.Errorf("create student %s: %w", st.Name, ErrConflict)
	}
	if st.Status == "" {
		st.Status = models.StudentActive
	}
	st.CreatedAt = m.now()
	st.UpdatedAt = st.CreatedAt
	m.students[st.Name] = st
	return &st, nil
}

func (m *MemoryStore) GetStudent(_ context.Context, name string) (*models.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.students[name]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (m *MemoryStore) ListStudents(_ context.Context, className string) ([]models.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Student
	for _, st := range m.students {
		if className == "" || st.ClassName == className {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) UpdateStudentStatus(_ context.Context, name string, status models.StudentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.students[name]
	if !ok {
		return fmt.Errorf("update student status %s: %w", name, ErrNotFound)
	}
	st.Status = status
	st.UpdatedAt = m.now()
	m.students[name] = st
	return nil
}

// DeleteStudent mirrors the Postgres cascade: cards, embeddings and point
// history go, attendance stays.
func (m *MemoryStore) DeleteStudent(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.students[name]; !ok {
		return false, nil
	}
	delete(m.students, name)
	delete(m.history, name)
	for id, c := range m.cards {
		if c.StudentName == name {
			delete(m.cards, id)
		}
	}
	m.removeEmbeddingsLocked(name)
	return true, nil
}

func (m *MemoryStore) AdjustPoints(_ context.Context, name string, delta int, reason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.students[name]
	if !ok {
		return 0, fmt.Errorf("adjust points %s: %w", name, ErrNotFound)
	}
	st.Points = models.ClampPoints(st.Points + delta)
	st.UpdatedAt = m.now()
	m.students[name] = st
	m.history[name] = append(m.history[name], models.PointAdjustment{
		StudentName: name,
		Change:      delta,
		NewTotal:    st.Points,
		Reason:      reason,
		CreatedAt:   st.UpdatedAt,
	})
	return st.Points, nil
}

func (m *MemoryStore) PointHistory(_ context.Context, name string) ([]models.PointAdjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.history[name]), nil
}

// --- RFID cards ---

func (m *MemoryStore) AddCard(_ context.Context, cardID, name string) (*models.RFIDCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := models.NormalizeCardID(cardID)
	if _, ok := m.cards[id]; ok {
		return nil, fmt.Errorf("add card %s: %w", id, ErrConflict)
	}
	if _, ok := m.students[name]; !ok {
		return nil, fmt.Errorf("add card for %s: %w", name, ErrNotFound)
	}
	card := models.RFIDCard{CardID: id, StudentName: name, CreatedAt: m.now()}
	m.cards[id] = card
	return &card, nil
}

func (m *MemoryStore) RemoveCard(_ context.Context, cardID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := models.NormalizeCardID(cardID)
	if _, ok := m.cards[id]; !ok {
		return false, nil
	}
	delete(m.cards, id)
	return true, nil
}

func (m *MemoryStore) LookupCard(_ context.Context, cardID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.cards[models.NormalizeCardID(cardID)]
	return c.StudentName, ok, nil
}

func (m *MemoryStore) ListCards(_ context.Context, name string) ([]models.RFIDCard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.RFIDCard
	for _, c := range m.cards {
		if c.StudentName == name {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CardID < out[j].CardID })
	return out, nil
}

// --- Face embeddings ---

func (m *MemoryStore) Load(context.Context) ([][]float32, []string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	vectors := make([][]float32, len(m.vectors))
	for i, v := range m.vectors {
		vectors[i] = slices.Clone(v)
	}
	return vectors, slices.Clone(m.identities), nil
}

func (m *MemoryStore) Save(_ context.Context, vectors [][]float32, identities []string) error {
	if len(vectors) != len(identities) {
		return ErrLengthMismatch
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.vectors = make([][]float32, len(vectors))
	for i, v := range vectors {
		m.vectors[i] = slices.Clone(v)
	}
	m.identities = slices.Clone(identities)
	return nil
}

func (m *MemoryStore) removeEmbeddingsLocked(name string) {
	vectors := m.vectors[:0:0]
	identities := m.identities[:0:0]
	for i, id := range m.identities {
		if id != name {
			vectors = append(vectors, m.vectors[i])
			identities = append(identities, id)
		}
	}
	m.vectors, m.identities = vectors, identities
}

// --- Attendance ---

func (m *MemoryStore) Get(_ context.Context, date string) (map[string]models.AttendanceRecord, error) {
	if date == "" || !validDate(date) {
		return nil, ErrInvalidDate
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]models.AttendanceRecord, len(m.attendance[date]))
	for k, v := range m.attendance[date] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) Put(_ context.Context, date, identity string, rec models.AttendanceRecord) error {
	if date == "" || !validDate(date) {
		return ErrInvalidDate
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailPut != nil {
		return m.FailPut
	}
	day, ok := m.attendance[date]
	if !ok {
		day = make(map[string]models.AttendanceRecord)
		m.attendance[date] = day
	}
	rec.Date = date
	rec.StudentName = identity
	day[identity] = rec
	return nil
}

func (m *MemoryStore) History(_ context.Context, name, from, to string) ([]models.AttendanceRecord, error) {
	if !validDate(from) || !validDate(to) {
		return nil, ErrInvalidDate
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.AttendanceRecord
	for date, day := range m.attendance {
		if rec, ok := day[name]; ok && inRange(date, from, to) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (m *MemoryStore) Summary(_ context.Context, from, to string) ([]models.DailySummary, error) {
	if !validDate(from) || !validDate(to) {
		return nil, ErrInvalidDate
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.DailySummary
	for date, day := range m.attendance {
		if !inRange(date, from, to) {
			continue
		}
		s := models.DailySummary{Date: date}
		for _, rec := range day {
			switch rec.Status {
			case models.StatusPresent:
				s.Present++
			case models.StatusLate:
				s.Late++
			}
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}
