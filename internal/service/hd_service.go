package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dialysis-ledger/internal/domain"
	"dialysis-ledger/internal/notify"
	"dialysis-ledger/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HDService logs and deletes HD sessions. There is no edit path.
type HDService struct {
	repo        repository.HDExchangesRepository
	events      notify.Publisher
	invalidator Invalidator
	clock       *Clock
	logger      *zap.Logger
}

func NewHDService(repo repository.HDExchangesRepository, events notify.Publisher, invalidator Invalidator, clock *Clock, logger *zap.Logger) *HDService {
	if events == nil {
		events = notify.NopPublisher{}
	}
	return &HDService{repo: repo, events: events, invalidator: invalidator, clock: clock, logger: logger}
}

type CreateHDRequest struct {
	PatientID  string  `json:"-"`
	Timestamp  string  `json:"timestamp"`
	PreWeight  float64 `json:"pre_weight"`
	PostWeight float64 `json:"post_weight"`
	Note       string  `json:"note"`
}

func (s *HDService) Create(ctx context.Context, req CreateHDRequest) (*domain.HDExchange, error) {
	if req.PatientID == "" {
		return nil, invalid("patient_id is required")
	}
	if req.PreWeight <= 0 || req.PostWeight <= 0 {
		return nil, invalid("pre_weight and post_weight must be positive")
	}
	ts := s.clock.Now()
	if strings.TrimSpace(req.Timestamp) != "" {
		parsed, err := domain.ParseCivil(req.Timestamp)
		if err != nil {
			return nil, invalid("timestamp %q is not a civil date-time", req.Timestamp)
		}
		ts = parsed
	}

	stored, err := s.repo.InsertHDExchange(ctx, &domain.HDExchange{
		PatientID:  req.PatientID,
		Timestamp:  ts,
		PreWeight:  req.PreWeight,
		PostWeight: req.PostWeight,
		Note:       strings.TrimSpace(req.Note),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.logger.Info("HD session logged",
		zap.String("patient_id", stored.PatientID),
		zap.String("session_id", stored.ID),
	)
	publishChange(ctx, s.events, s.invalidator, s.logger, notify.ChangeEvent{
		PatientID: stored.PatientID,
		Kind:      notify.KindHD,
		RecordID:  stored.ID,
		Op:        notify.OpInsert,
		Fields:    notify.FieldsOf(stored),
	})
	return stored, nil
}

// List newest first.
func (s *HDService) List(ctx context.Context, patientID string) ([]domain.HDExchange, error) {
	out, err := s.repo.ListHDExchanges(ctx, patientID, repository.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return out, nil
}

func (s *HDService) Delete(ctx context.Context, patientID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return repository.ErrNotFound
	}
	if err := s.repo.DeleteHDExchange(ctx, patientID, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}
	publishChange(ctx, s.events, s.invalidator, s.logger, notify.ChangeEvent{
		PatientID: patientID,
		Kind:      notify.KindHD,
		RecordID:  id,
		Op:        notify.OpDelete,
		Fields:    map[string]any{"id": id},
	})
	return nil
}
