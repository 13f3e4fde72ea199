package repository

import (
	"context"
	"errors"

	"dialysis-ledger/internal/domain"
)

var (
	// ErrNotFound the record does not exist or belongs to another patient
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate a unique key (e.g. email) is already taken
	ErrDuplicate = errors.New("duplicate record")
)

// ListOptions narrows a patient's records by civil timestamp. Bounds are inclusive.
type ListOptions struct {
	From      *domain.CivilTime
	To        *domain.CivilTime
	Ascending bool
}

// PDExchangesRepository PD record store.
// Insert and Update return the stored representation, including the store-derived uf.
type PDExchangesRepository interface {
	ListPDExchanges(ctx context.Context, patientID string, opts ListOptions) ([]domain.PDExchange, error)
	InsertPDExchange(ctx context.Context, e *domain.PDExchange) (*domain.PDExchange, error)
	UpdatePDExchange(ctx context.Context, patientID, id string, edit domain.PDEdit) (*domain.PDExchange, error)
	DeletePDExchange(ctx context.Context, patientID, id string) error
}

// HDExchangesRepository HD record store. HD sessions have no edit path.
type HDExchangesRepository interface {
	ListHDExchanges(ctx context.Context, patientID string, opts ListOptions) ([]domain.HDExchange, error)
	InsertHDExchange(ctx context.Context, e *domain.HDExchange) (*domain.HDExchange, error)
	DeleteHDExchange(ctx context.Context, patientID, id string) error
}

// ExchangeStore both record kinds behind one backend.
type ExchangeStore interface {
	PDExchangesRepository
	HDExchangesRepository
}

// UsersRepository accounts. Lookups return (nil, nil) when absent.
type UsersRepository interface {
	// CreateAccount stores the user and its patient profile atomically.
	// p.AuthID is set from the new user.
	CreateAccount(ctx context.Context, email string, passwordHash []byte, p *domain.Patient) (*domain.User, *domain.Patient, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
}

// PatientsRepository patient profiles. Lookups return (nil, nil) when absent.
type PatientsRepository interface {
	GetPatient(ctx context.Context, patientID string) (*domain.Patient, error)
	GetPatientByAuthID(ctx context.Context, authID string) (*domain.Patient, error)
}
