package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"dialysis-ledger/internal/domain"

	"github.com/google/uuid"
)

// MemoryIdentityRepository users and patients held in process.
type MemoryIdentityRepository struct {
	mu       sync.RWMutex
	users    map[string]domain.User // by lower-cased email
	patients map[string]domain.Patient
}

func NewMemoryIdentityRepository() *MemoryIdentityRepository {
	return &MemoryIdentityRepository{
		users:    make(map[string]domain.User),
		patients: make(map[string]domain.Patient),
	}
}

var (
	_ UsersRepository    = (*MemoryIdentityRepository)(nil)
	_ PatientsRepository = (*MemoryIdentityRepository)(nil)
)

func (m *MemoryIdentityRepository) CreateAccount(_ context.Context, email string, passwordHash []byte, p *domain.Patient) (*domain.User, *domain.Patient, error) {
	key := strings.ToLower(email)
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[key]; ok {
		return nil, nil, ErrDuplicate
	}
	now := time.Now().UTC()
	u := domain.User{
		UserID:       uuid.NewString(),
		Email:        key,
		PasswordHash: append([]byte(nil), passwordHash...),
		CreatedAt:    now,
	}
	stored := *p
	stored.AuthID = u.UserID
	stored.PatientID = uuid.NewString()
	stored.CreatedAt = now

	m.users[key] = u
	m.patients[stored.PatientID] = stored
	return &u, &stored, nil
}

func (m *MemoryIdentityRepository) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *MemoryIdentityRepository) GetPatient(_ context.Context, patientID string) (*domain.Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.patients[patientID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryIdentityRepository) GetPatientByAuthID(_ context.Context, authID string) (*domain.Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.patients {
		if p.AuthID == authID {
			return &p, nil
		}
	}
	return nil, nil
}
