// Package coretest provides an in-memory core.PatientRepository for tests.
package coretest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JonMunkholm/patientsync/internal/core"
)

// Repo is an in-memory patient store. It records every call so tests can
// assert how many round trips a stage made.
type Repo struct {
	mu       sync.Mutex
	patients map[string]core.NewPatientRecord
	users    map[string]core.User

	// FailCreate, when set, is consulted before each insert. A non-nil
	// error fails that record.
	FailCreate func(rec core.NewPatientRecord) error

	// StaleIDs, when set, makes FindByIDs report nothing, simulating a
	// concurrent runner that read the store before either side inserted.
	StaleIDs bool

	// ErrFindByEmails is returned by FindByEmails when set.
	ErrFindByEmails error

	EmailCalls  [][]string
	IDCalls     [][]string
	UserCalls   []string
	CreateCalls []string
}

var _ core.PatientRepository = (*Repo)(nil)

// New returns an empty store.
func New() *Repo {
	return &Repo{
		patients: make(map[string]core.NewPatientRecord),
		users:    make(map[string]core.User),
	}
}

// AddPatient seeds a persisted patient.
func (r *Repo) AddPatient(id, email, first, last string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients[strings.ToLower(id)] = core.NewPatientRecord{
		ID:        id,
		Email:     email,
		FirstName: first,
		LastName:  last,
	}
}

// AddUser seeds a store user.
func (r *Repo) AddUser(id, email string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[strings.ToLower(id)] = core.User{ID: id, Email: email}
}

// Count returns the number of persisted patients.
func (r *Repo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.patients)
}

// Patient returns the persisted patient with id.
func (r *Repo) Patient(id string) (core.NewPatientRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[strings.ToLower(id)]
	return p, ok
}

func (r *Repo) FindByEmails(_ context.Context, emails []string) ([]core.EmailMatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.EmailCalls = append(r.EmailCalls, append([]string(nil), emails...))
	if r.ErrFindByEmails != nil {
		return nil, r.ErrFindByEmails
	}

	want := make(map[string]bool, len(emails))
	for _, e := range emails {
		want[strings.ToLower(e)] = true
	}

	var matches []core.EmailMatch
	for _, p := range r.patients {
		if want[strings.ToLower(p.Email)] {
			matches = append(matches, core.EmailMatch{ID: p.ID, Email: p.Email})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	return matches, nil
}

func (r *Repo) FindByIDs(_ context.Context, ids []string) ([]core.PatientSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.IDCalls = append(r.IDCalls, append([]string(nil), ids...))
	if r.StaleIDs {
		return nil, nil
	}

	var found []core.PatientSummary
	for _, id := range ids {
		if p, ok := r.patients[strings.ToLower(id)]; ok {
			found = append(found, core.PatientSummary{
				ID:        strings.ToLower(p.ID),
				FirstName: p.FirstName,
				LastName:  p.LastName,
				Email:     p.Email,
			})
		}
	}
	return found, nil
}

func (r *Repo) FindUserByID(_ context.Context, id string) (*core.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.UserCalls = append(r.UserCalls, id)
	u, ok := r.users[strings.ToLower(id)]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// CreateOne enforces primary key uniqueness like the real table.
func (r *Repo) CreateOne(_ context.Context, rec core.NewPatientRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CreateCalls = append(r.CreateCalls, rec.ID)
	if r.FailCreate != nil {
		if err := r.FailCreate(rec); err != nil {
			return err
		}
	}
	key := strings.ToLower(rec.ID)
	if _, ok := r.patients[key]; ok {
		return fmt.Errorf("insert patient %s: duplicate key value violates unique constraint \"patients_pkey\"", rec.ID)
	}
	r.patients[key] = rec
	return nil
}
