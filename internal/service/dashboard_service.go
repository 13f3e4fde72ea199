package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"dialysis-ledger/internal/domain"
	"dialysis-ledger/internal/ledger"
	"dialysis-ledger/internal/notify"
	"dialysis-ledger/internal/repository"
	"dialysis-ledger/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DashboardAverageDays the trailing window of the average shown on the dashboard.
const DashboardAverageDays = 7

type DashboardExchange struct {
	ID       string          `json:"id"`
	Kind     notify.Kind     `json:"kind"`
	Time     string          `json:"time"`
	Strength domain.Strength `json:"strength,omitempty"`
	UF       string          `json:"uf"`
	Balance  string          `json:"balance"`
}

// DashboardSummary today's totals and the 7-day average for one patient.
type DashboardSummary struct {
	FirstName       string              `json:"first_name"`
	DialysisType    domain.DialysisType `json:"dialysis_type"`
	LogAction       string              `json:"log_action"`
	Today           string              `json:"today"`
	TodayTotalUF    float64             `json:"today_total_uf"`
	TodayExchanges  []DashboardExchange `json:"today_exchanges"`
	WeeklyAverageUF int64               `json:"weekly_average_uf"`
}

// DashboardService builds and caches dashboard summaries. It also serves as a
// notify.Handler so the notifier can drop stale summaries.
type DashboardService struct {
	reader recordReader
	kv     store.KV
	ttl    time.Duration
	clock  *Clock
	logger *zap.Logger
}

func NewDashboardService(
	records repository.ExchangeStore,
	patients repository.PatientsRepository,
	kv store.KV,
	ttl time.Duration,
	clock *Clock,
	logger *zap.Logger,
) *DashboardService {
	return &DashboardService{
		reader: recordReader{store: records, patients: patients},
		kv:     kv,
		ttl:    ttl,
		clock:  clock,
		logger: logger,
	}
}

var (
	_ notify.Handler = (*DashboardService)(nil)
	_ Invalidator    = (*DashboardService)(nil)
)

// Cached summaries are keyed by a per-patient generation. Invalidation moves the
// generation on, so a summary built before it lands under a key nobody reads again.
func dashboardKey(patientID, generation, day string) string {
	return fmt.Sprintf("ledger:dashboard:%s:%s:%s", patientID, generation, day)
}

func dashboardGenerationKey(patientID string) string {
	return "ledger:dashboard-gen:" + patientID
}

func (s *DashboardService) generation(ctx context.Context, patientID string) (string, error) {
	gen, err := s.kv.Get(ctx, dashboardGenerationKey(patientID))
	if errors.Is(err, store.ErrMiss) {
		return "0", nil
	}
	return gen, err
}

// roundHalfUp rounds .5 towards +Inf, so an average of -2.5 mL shows as -2.
func roundHalfUp(x float64) int64 {
	return int64(math.Floor(x + 0.5))
}

func (s *DashboardService) Summary(ctx context.Context, patientID string) (*DashboardSummary, error) {
	now := s.clock.Now()

	cache := s.kv != nil && s.ttl > 0
	var key string
	if cache {
		gen, err := s.generation(ctx, patientID)
		if err != nil {
			s.logger.Warn("Dashboard generation read failed", zap.String("patient_id", patientID), zap.Error(err))
			cache = false
		}
		key = dashboardKey(patientID, gen, now.Date())
	}

	if cache {
		var cached DashboardSummary
		err := store.GetJSON(ctx, s.kv, key, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, store.ErrMiss) {
			s.logger.Warn("Dashboard cache read failed", zap.String("patient_id", patientID), zap.Error(err))
		}
	}

	summary, err := s.build(ctx, patientID, now)
	if err != nil {
		return nil, err
	}

	if cache {
		if err := store.SetJSON(ctx, s.kv, key, summary, s.ttl); err != nil {
			s.logger.Warn("Dashboard cache write failed", zap.String("patient_id", patientID), zap.Error(err))
		}
	}
	return summary, nil
}

func (s *DashboardService) build(ctx context.Context, patientID string, now domain.CivilTime) (*DashboardSummary, error) {
	patient, err := s.reader.patient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	from := ledger.WindowStart(now, DashboardAverageDays)
	records, err := s.reader.entries(ctx, patient, repository.ListOptions{From: &from, Ascending: true})
	if err != nil {
		return nil, fmt.Errorf("failed to load exchanges: %w", err)
	}

	today := now.Date()
	summary := &DashboardSummary{
		FirstName:       patient.FirstName(),
		DialysisType:    patient.DialysisType,
		LogAction:       string(notify.KindPD),
		Today:           today,
		TodayTotalUF:    ledger.DailyTotal(records, today),
		TodayExchanges:  []DashboardExchange{},
		WeeklyAverageUF: roundHalfUp(ledger.RollingAverage(records, now, DashboardAverageDays)),
	}
	if patient.DialysisType == domain.DialysisHD {
		summary.LogAction = string(notify.KindHD)
	}

	for _, r := range records {
		if r.RecordedAt().Date() != today {
			continue
		}
		uf := ledger.UFOf(r)
		summary.TodayExchanges = append(summary.TodayExchanges, DashboardExchange{
			ID:       r.ID(),
			Kind:     r.Kind,
			Time:     r.RecordedAt().Clock(),
			Strength: r.Strength(),
			UF:       uf.String(),
			Balance:  uf.Balance().String(),
		})
	}
	return summary, nil
}

// InvalidateSummary moves the patient to a new cache generation and drops the summaries already cached.
func (s *DashboardService) InvalidateSummary(ctx context.Context, patientID string) error {
	if s.kv == nil {
		return nil
	}
	if err := s.kv.Set(ctx, dashboardGenerationKey(patientID), uuid.NewString(), 0); err != nil {
		return err
	}
	return store.DelPattern(ctx, s.kv, dashboardKey(patientID, "*", "*"))
}

func (s *DashboardService) OnRecordChanged(ctx context.Context, ev notify.ChangeEvent) error {
	if err := s.InvalidateSummary(ctx, ev.PatientID); err != nil {
		return fmt.Errorf("failed to invalidate dashboard: %w", err)
	}
	s.logger.Debug("Dashboard invalidated",
		zap.String("patient_id", ev.PatientID),
		zap.String("op", string(ev.Op)),
	)
	return nil
}
