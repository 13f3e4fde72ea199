package service

import (
	"context"
	"fmt"

	"dialysis-ledger/internal/ledger"
	"dialysis-ledger/internal/repository"

	"go.uber.org/zap"
)

// TrendService charts uf over a 7- or 30-day window.
type TrendService struct {
	reader recordReader
	clock  *Clock
	logger *zap.Logger
}

func NewTrendService(records repository.ExchangeStore, patients repository.PatientsRepository, clock *Clock, logger *zap.Logger) *TrendService {
	return &TrendService{reader: recordReader{store: records, patients: patients}, clock: clock, logger: logger}
}

func (s *TrendService) Series(ctx context.Context, patientID string, window string) (*ledger.TrendSeries, error) {
	w, err := ledger.ParseWindow(window)
	if err != nil {
		return nil, invalid("window must be 7days or 30days")
	}
	patient, err := s.reader.patient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	from := ledger.WindowStart(now, w.Days())
	records, err := s.reader.entries(ctx, patient, repository.ListOptions{From: &from, Ascending: true})
	if err != nil {
		return nil, fmt.Errorf("failed to load trend: %w", err)
	}

	series := ledger.BuildTrend(records, now, w)
	s.logger.Debug("Trend built",
		zap.String("patient_id", patientID),
		zap.String("window", string(w)),
		zap.Int("points", len(series.Points)),
	)
	return &series, nil
}
