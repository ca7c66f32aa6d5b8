package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository used by tests and local demos.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]Appointment
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[uuid.UUID]Appointment)}
}

func (r *MemoryRepository) Create(ctx context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[a.ID]; exists {
		return fmt.Errorf("create appointment %s: %w", a.ID, ErrConflict)
	}
	if r.overlapsLocked(a) {
		return fmt.Errorf("create appointment %s: %w", a.ID, ErrSlotNoLongerAvailable)
	}
	a.Version = 1
	r.items[a.ID] = a.Clone()
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.items[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	out := a.Clone()
	return &out, nil
}

func (r *MemoryRepository) Update(ctx context.Context, next *Appointment, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.items[next.ID]
	if !ok {
		return ErrAppointmentNotFound
	}
	if stored.Version != expectedVersion {
		return ErrConflict
	}
	if r.overlapsLocked(next) {
		return fmt.Errorf("update appointment %s: %w", next.ID, ErrSlotNoLongerAvailable)
	}
	next.Version = expectedVersion + 1
	r.items[next.ID] = next.Clone()
	return nil
}

func (r *MemoryRepository) ListByDoctorBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	return r.filter(func(a Appointment) bool {
		return a.DoctorID == doctorID && a.DateTime.Before(to) && a.End().After(from)
	}), nil
}

func (r *MemoryRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	all := r.filter(func(a Appointment) bool { return a.PatientID == patientID })
	sort.Slice(all, func(i, j int) bool { return all[i].DateTime.After(all[j].DateTime) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *MemoryRepository) ListScheduledBetween(ctx context.Context, from, to time.Time, statuses []Status) ([]Appointment, error) {
	return r.filter(func(a Appointment) bool {
		if a.DateTime.Before(from) || !a.DateTime.Before(to) {
			return false
		}
		for _, s := range statuses {
			if a.Status == s {
				return true
			}
		}
		return false
	}), nil
}

func (r *MemoryRepository) filter(keep func(Appointment) bool) []Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Appointment
	for _, a := range r.items {
		if keep(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateTime.Before(out[j].DateTime) })
	return out
}

// MemoryDirectory is a static Directory.
type MemoryDirectory struct {
	mu       sync.RWMutex
	doctors  map[uuid.UUID]Doctor
	patients map[uuid.UUID]Patient
	hours    map[uuid.UUID]map[time.Weekday]WorkingHours
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		doctors:  make(map[uuid.UUID]Doctor),
		patients: make(map[uuid.UUID]Patient),
		hours:    make(map[uuid.UUID]map[time.Weekday]WorkingHours),
	}
}

// AddDoctor registers a doctor with the given weekly hours.
func (d *MemoryDirectory) AddDoctor(doc Doctor, hours ...WorkingHours) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.doctors[doc.ID] = doc
	byDay := make(map[time.Weekday]WorkingHours, len(hours))
	for _, h := range hours {
		byDay[h.Weekday] = h
	}
	d.hours[doc.ID] = byDay
}

func (d *MemoryDirectory) AddPatient(p Patient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.patients[p.ID] = p
}

func (d *MemoryDirectory) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	doc, ok := d.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &doc, nil
}

func (d *MemoryDirectory) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (d *MemoryDirectory) GetDoctorWorkingHours(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) (*WorkingHours, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	byDay, ok := d.hours[doctorID]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	h, ok := byDay[weekday]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

// overlapsLocked reports whether a occupies time another occupying
// appointment of the same doctor already holds. Callers hold mu.
func (r *MemoryRepository) overlapsLocked(a *Appointment) bool {
	if !a.Status.Occupying() {
		return false
	}
	for id, other := range r.items {
		if id == a.ID || other.DoctorID != a.DoctorID || !other.Status.Occupying() {
			continue
		}
		if a.DateTime.Before(other.End()) && other.DateTime.Before(a.End()) {
			return true
		}
	}
	return false
}
