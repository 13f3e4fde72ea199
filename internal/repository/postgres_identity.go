package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"dialysis-ledger/internal/domain"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// PostgresIdentityRepository users and patients
type PostgresIdentityRepository struct {
	db *sql.DB
}

func NewPostgresIdentityRepository(db *sql.DB) *PostgresIdentityRepository {
	return &PostgresIdentityRepository{db: db}
}

var (
	_ UsersRepository    = (*PostgresIdentityRepository)(nil)
	_ PatientsRepository = (*PostgresIdentityRepository)(nil)
)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreateAccount inserts the user and its patient profile in one transaction.
// Neither row survives if either insert fails.
func (r *PostgresIdentityRepository) CreateAccount(ctx context.Context, email string, passwordHash []byte, p *domain.Patient) (*domain.User, *domain.Patient, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin signup: %w", err)
	}

	u, err := insertUser(ctx, tx, email, passwordHash)
	if err != nil {
		_ = tx.Rollback()
		return nil, nil, err
	}
	row := *p
	row.AuthID = u.UserID
	stored, err := insertPatient(ctx, tx, &row)
	if err != nil {
		_ = tx.Rollback()
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit signup: %w", err)
	}
	return u, stored, nil
}

func insertUser(ctx context.Context, q rowQuerier, email string, passwordHash []byte) (*domain.User, error) {
	var u domain.User
	err := q.QueryRowContext(ctx,
		`INSERT INTO users (email, password_hash)
		 VALUES ($1, $2)
		 RETURNING user_id::text, email, password_hash, created_at`,
		strings.ToLower(email), passwordHash,
	).Scan(&u.UserID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &u, nil
}

func (r *PostgresIdentityRepository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id::text, email, password_hash, created_at
		 FROM users
		 WHERE email = $1`,
		strings.ToLower(email),
	).Scan(&u.UserID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

const patientColumns = `patient_id::text, auth_id::text, username, dialysis_type, created_at`

func scanPatient(row rowScanner) (*domain.Patient, error) {
	var (
		p     domain.Patient
		dtype string
	)
	if err := row.Scan(&p.PatientID, &p.AuthID, &p.Username, &dtype, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.DialysisType = domain.DialysisType(dtype)
	return &p, nil
}

func insertPatient(ctx context.Context, q rowQuerier, p *domain.Patient) (*domain.Patient, error) {
	stored, err := scanPatient(q.QueryRowContext(ctx,
		`INSERT INTO patients (auth_id, username, dialysis_type)
		 VALUES ($1::uuid, $2, $3)
		 RETURNING `+patientColumns,
		p.AuthID, p.Username, string(p.DialysisType),
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create patient: %w", err)
	}
	return stored, nil
}

func (r *PostgresIdentityRepository) GetPatient(ctx context.Context, patientID string) (*domain.Patient, error) {
	return r.getPatient(ctx, `patient_id`, patientID)
}

func (r *PostgresIdentityRepository) GetPatientByAuthID(ctx context.Context, authID string) (*domain.Patient, error) {
	return r.getPatient(ctx, `auth_id`, authID)
}

func (r *PostgresIdentityRepository) getPatient(ctx context.Context, column, value string) (*domain.Patient, error) {
	p, err := scanPatient(r.db.QueryRowContext(ctx,
		`SELECT `+patientColumns+`
		 FROM patients
		 WHERE `+column+` = $1::uuid`,
		value,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return p, nil
}
