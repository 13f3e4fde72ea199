package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"dialysis-ledger/internal/blob"
	"dialysis-ledger/internal/domain"
	"dialysis-ledger/internal/ledger"
	"dialysis-ledger/internal/notify"
	"dialysis-ledger/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultBagVolume      = 2000.0
	DefaultLeftoverVolume = 0.0
)

// Invalidator drops derived views cached for a patient.
type Invalidator interface {
	InvalidateSummary(ctx context.Context, patientID string) error
}

// PDService logs, edits and deletes PD exchanges.
type PDService struct {
	repo          repository.PDExchangesRepository
	blobs         blob.Storage
	events        notify.Publisher
	invalidator   Invalidator
	clock         *Clock
	maxSide       int
	maxImageBytes int64
	logger        *zap.Logger
}

type PDServiceOptions struct {
	MaxImageSide  int
	MaxImageBytes int64
}

func NewPDService(
	repo repository.PDExchangesRepository,
	blobs blob.Storage,
	events notify.Publisher,
	invalidator Invalidator,
	clock *Clock,
	opts PDServiceOptions,
	logger *zap.Logger,
) *PDService {
	if events == nil {
		events = notify.NopPublisher{}
	}
	return &PDService{
		repo:          repo,
		blobs:         blobs,
		events:        events,
		invalidator:   invalidator,
		clock:         clock,
		maxSide:       opts.MaxImageSide,
		maxImageBytes: opts.MaxImageBytes,
		logger:        logger,
	}
}

// ImageUpload an optional photo attached to an exchange.
type ImageUpload struct {
	Filename    string
	ContentType string
	Data        io.Reader
}

// CreatePDRequest a new exchange. Fill volume is BagVolume - LeftoverVolume.
type CreatePDRequest struct {
	PatientID      string   `json:"-"`
	Timestamp      string   `json:"timestamp"`
	BaxterStrength string   `json:"baxter_strength"`
	BagVolume      *float64 `json:"bag_volume"`
	LeftoverVolume *float64 `json:"leftover_volume"`
	DrainVolume    *float64 `json:"drain_volume"`
	Weight         *float64 `json:"weight"`
	Notes          string   `json:"notes"`

	Image *ImageUpload `json:"-"`
}

// UpdatePDRequest the editable fields; uf is recomputed by the store.
type UpdatePDRequest struct {
	FillVolume     float64  `json:"fill_volume"`
	DrainVolume    *float64 `json:"drain_volume"`
	Weight         *float64 `json:"weight"`
	BaxterStrength string   `json:"baxter_strength"`
	Notes          string   `json:"notes"`
}

func (s *PDService) timestamp(raw string) (domain.CivilTime, error) {
	if strings.TrimSpace(raw) == "" {
		return s.clock.Now(), nil
	}
	ts, err := domain.ParseCivil(raw)
	if err != nil {
		return domain.CivilTime{}, invalid("timestamp %q is not a civil date-time", raw)
	}
	return ts, nil
}

func strengthOrDefault(raw string) (domain.Strength, error) {
	if strings.TrimSpace(raw) == "" {
		return domain.DefaultStrength, nil
	}
	st, err := domain.ParseStrength(strings.TrimSpace(raw))
	if err != nil {
		return "", invalid("baxter_strength must be one of 1.5%%, 2.5%%, 7.5%%")
	}
	return st, nil
}

func validVolume(name string, v *float64) error {
	if v != nil && *v < 0 {
		return invalid("%s must not be negative", name)
	}
	return nil
}

func validWeight(v *float64) error {
	if v != nil && *v <= 0 {
		return invalid("weight must be positive")
	}
	return nil
}

func (s *PDService) Create(ctx context.Context, req CreatePDRequest) (*domain.PDExchange, error) {
	if req.PatientID == "" {
		return nil, invalid("patient_id is required")
	}
	ts, err := s.timestamp(req.Timestamp)
	if err != nil {
		return nil, err
	}
	strength, err := strengthOrDefault(req.BaxterStrength)
	if err != nil {
		return nil, err
	}

	bag, leftover := DefaultBagVolume, DefaultLeftoverVolume
	if req.BagVolume != nil {
		bag = *req.BagVolume
	}
	if req.LeftoverVolume != nil {
		leftover = *req.LeftoverVolume
	}
	if bag <= 0 {
		return nil, invalid("bag_volume must be positive")
	}
	if leftover < 0 || leftover > bag {
		return nil, invalid("leftover_volume must be between 0 and bag_volume")
	}
	if err := validVolume("drain_volume", req.DrainVolume); err != nil {
		return nil, err
	}
	if err := validWeight(req.Weight); err != nil {
		return nil, err
	}

	rec := &domain.PDExchange{
		PatientID:      req.PatientID,
		Timestamp:      ts,
		BaxterStrength: strength,
		FillVolume:     ledger.FillVolume(bag, leftover),
		DrainVolume:    req.DrainVolume,
		Weight:         req.Weight,
		Notes:          strings.TrimSpace(req.Notes),
	}

	// the image goes first; a failed upload aborts the whole submission
	if req.Image != nil {
		obj, err := s.storeImage(ctx, req.Image)
		if err != nil {
			return nil, err
		}
		rec.ImageURL = obj.URL
	}

	stored, err := s.repo.InsertPDExchange(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to save exchange: %w", err)
	}

	s.logger.Info("PD exchange logged",
		zap.String("patient_id", stored.PatientID),
		zap.String("exchange_id", stored.ID),
		zap.String("uf", ledger.UFOf(stored).String()),
	)
	s.changed(ctx, notify.OpInsert, stored.PatientID, stored.ID, notify.FieldsOf(stored))
	return stored, nil
}

func (s *PDService) storeImage(ctx context.Context, img *ImageUpload) (*blob.Object, error) {
	if s.blobs == nil {
		return nil, fmt.Errorf("%w: no image storage configured", blob.ErrUpload)
	}
	r := img.Data
	if s.maxImageBytes > 0 {
		r = io.LimitReader(img.Data, s.maxImageBytes+1)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", blob.ErrUpload, err)
	}
	if s.maxImageBytes > 0 && int64(len(raw)) > s.maxImageBytes {
		return nil, invalid("image exceeds %d bytes", s.maxImageBytes)
	}

	data, contentType, err := blob.Downscale(raw, img.ContentType, s.maxSide)
	if err != nil {
		if errors.Is(err, blob.ErrNotImage) {
			return nil, invalid("image could not be decoded")
		}
		return nil, fmt.Errorf("%w: %v", blob.ErrUpload, err)
	}

	name := blob.ObjectName(s.clock.Instant(), img.Filename)
	obj, err := s.blobs.Upload(ctx, name, contentType, bytes.NewReader(data))
	if err != nil {
		s.logger.Error("Image upload failed, exchange not saved", zap.String("object_name", name), zap.Error(err))
		return nil, err
	}
	return obj, nil
}

// List newest first.
func (s *PDService) List(ctx context.Context, patientID string) ([]domain.PDExchange, error) {
	out, err := s.repo.ListPDExchanges(ctx, patientID, repository.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list exchanges: %w", err)
	}
	return out, nil
}

// Update applies an edit and returns the stored record, including its recomputed uf.
func (s *PDService) Update(ctx context.Context, patientID, id string, req UpdatePDRequest) (*domain.PDExchange, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, repository.ErrNotFound
	}
	if req.FillVolume <= 0 {
		return nil, invalid("fill_volume must be positive")
	}
	if err := validVolume("drain_volume", req.DrainVolume); err != nil {
		return nil, err
	}
	if err := validWeight(req.Weight); err != nil {
		return nil, err
	}
	strength, err := strengthOrDefault(req.BaxterStrength)
	if err != nil {
		return nil, err
	}

	edit := domain.PDEdit{
		FillVolume:     req.FillVolume,
		DrainVolume:    req.DrainVolume,
		Weight:         req.Weight,
		BaxterStrength: strength,
		Notes:          strings.TrimSpace(req.Notes),
	}
	stored, err := s.repo.UpdatePDExchange(ctx, patientID, id, edit)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update exchange: %w", err)
	}

	fields := notify.FieldsOf(edit)
	if fields == nil {
		fields = map[string]any{}
	}
	fields["uf"] = stored.UF
	s.changed(ctx, notify.OpUpdate, patientID, id, fields)
	return stored, nil
}

func (s *PDService) Delete(ctx context.Context, patientID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return repository.ErrNotFound
	}
	if err := s.repo.DeletePDExchange(ctx, patientID, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete exchange: %w", err)
	}
	s.changed(ctx, notify.OpDelete, patientID, id, map[string]any{"id": id})
	return nil
}

// changed runs after a committed mutation; failures here never undo it.
func (s *PDService) changed(ctx context.Context, op notify.Op, patientID, id string, fields map[string]any) {
	publishChange(ctx, s.events, s.invalidator, s.logger, notify.ChangeEvent{
		PatientID: patientID,
		Kind:      notify.KindPD,
		RecordID:  id,
		Op:        op,
		Fields:    fields,
	})
}

func publishChange(ctx context.Context, events notify.Publisher, inv Invalidator, logger *zap.Logger, ev notify.ChangeEvent) {
	if inv != nil {
		if err := inv.InvalidateSummary(ctx, ev.PatientID); err != nil {
			logger.Warn("Failed to invalidate dashboard", zap.String("patient_id", ev.PatientID), zap.Error(err))
		}
	}
	if err := events.Publish(ctx, ev); err != nil {
		logger.Warn("Failed to publish change event",
			zap.String("patient_id", ev.PatientID),
			zap.String("record_id", ev.RecordID),
			zap.Error(err),
		)
	}
}
