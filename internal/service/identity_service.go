package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"dialysis-ledger/internal/domain"
	"dialysis-ledger/internal/repository"
	"dialysis-ledger/internal/store"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLen = 6

// IdentityService accounts, tokens and the user → patient mapping that scopes every record.
type IdentityService struct {
	users      repository.UsersRepository
	patients   repository.PatientsRepository
	kv         store.KV
	tokens     *TokenIssuer
	patientTTL time.Duration
	logger     *zap.Logger
}

func NewIdentityService(
	users repository.UsersRepository,
	patients repository.PatientsRepository,
	kv store.KV,
	tokens *TokenIssuer,
	patientTTL time.Duration,
	logger *zap.Logger,
) *IdentityService {
	return &IdentityService{
		users:      users,
		patients:   patients,
		kv:         kv,
		tokens:     tokens,
		patientTTL: patientTTL,
		logger:     logger,
	}
}

// SignupRequest creates a user and its patient profile.
type SignupRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	Username     string `json:"username"`
	DialysisType string `json:"dialysis_type"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Patient   *domain.Patient `json:"patient"`
}

// ProfileResponse the signed-in patient's profile
type ProfileResponse struct {
	Patient   *domain.Patient `json:"patient"`
	FirstName string          `json:"first_name"`
}

func (s *IdentityService) Signup(ctx context.Context, req SignupRequest) (*AuthResponse, error) {
	email := strings.TrimSpace(req.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, invalid("email is invalid")
	}
	if len(req.Password) < minPasswordLen {
		return nil, invalid("password must be at least %d characters", minPasswordLen)
	}
	dtype := domain.DialysisType(strings.ToUpper(strings.TrimSpace(req.DialysisType)))
	if dtype == "" {
		dtype = domain.DialysisPD
	}
	if !dtype.Valid() {
		return nil, invalid("dialysis_type must be PD or HD")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, patient, err := s.users.CreateAccount(ctx, email, hash, &domain.Patient{
		Username:     strings.TrimSpace(req.Username),
		DialysisType: dtype,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, invalid("email is already registered")
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.logger.Info("Patient signed up",
		zap.String("user_id", user.UserID),
		zap.String("patient_id", patient.PatientID),
		zap.String("dialysis_type", string(dtype)),
	)
	return s.issue(user.UserID, patient)
}

func (s *IdentityService) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	user, err := s.users.GetUserByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(req.Password)); err != nil {
		return nil, fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	}

	patient, err := s.patients.GetPatientByAuthID(ctx, user.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return s.issue(user.UserID, patient)
}

func (s *IdentityService) issue(userID string, patient *domain.Patient) (*AuthResponse, error) {
	token, exp, err := s.tokens.Issue(userID)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{Token: token, ExpiresAt: exp, Patient: patient}, nil
}

// CurrentUser resolves a bearer token to the user id.
func (s *IdentityService) CurrentUser(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	return s.tokens.Parse(token)
}

func patientCacheKey(userID string) string { return "ledger:patient:auth:" + userID }

// ResolvePatientID maps an authenticated user to the patient id that scopes their records.
func (s *IdentityService) ResolvePatientID(ctx context.Context, userID string) (string, error) {
	key := patientCacheKey(userID)
	if s.kv != nil {
		if id, err := s.kv.Get(ctx, key); err == nil {
			return id, nil
		} else if !errors.Is(err, store.ErrMiss) {
			s.logger.Warn("Patient cache read failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	patient, err := s.patients.GetPatientByAuthID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve patient: %w", err)
	}
	if patient == nil {
		return "", ErrNoPatient
	}

	if s.kv != nil {
		if err := s.kv.Set(ctx, key, patient.PatientID, s.patientTTL); err != nil {
			s.logger.Warn("Patient cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return patient.PatientID, nil
}

func (s *IdentityService) Profile(ctx context.Context, patientID string) (*ProfileResponse, error) {
	patient, err := s.patients.GetPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	if patient == nil {
		return nil, ErrNoPatient
	}
	return &ProfileResponse{Patient: patient, FirstName: patient.FirstName()}, nil
}
