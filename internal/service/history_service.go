package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"dialysis-ledger/internal/domain"
	"dialysis-ledger/internal/export"
	"dialysis-ledger/internal/ledger"
	"dialysis-ledger/internal/notify"
	"dialysis-ledger/internal/repository"

	"go.uber.org/zap"
)

// HistoryQuery raw filter parameters as they arrive from the client.
type HistoryQuery struct {
	WeightCategory string
	UFMin          string
	UFMax          string
	Strength       string
	Date           string
}

// FilterConfig validates the query into a ledger filter.
func (q HistoryQuery) FilterConfig() (ledger.FilterConfig, error) {
	var cfg ledger.FilterConfig

	cfg.WeightCategory = ledger.WeightCategory(strings.ToLower(strings.TrimSpace(q.WeightCategory)))
	if !cfg.WeightCategory.Valid() {
		return cfg, invalid("weight_category must be below, average or above")
	}

	parseBound := func(name, raw string) (*float64, error) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil, nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, invalid("%s must be a number", name)
		}
		return &v, nil
	}
	var err error
	if cfg.UFMin, err = parseBound("uf_min", q.UFMin); err != nil {
		return cfg, err
	}
	if cfg.UFMax, err = parseBound("uf_max", q.UFMax); err != nil {
		return cfg, err
	}
	if cfg.UFMin != nil && cfg.UFMax != nil && *cfg.UFMin > *cfg.UFMax {
		return cfg, invalid("uf_min must not exceed uf_max")
	}

	if s := strings.TrimSpace(q.Strength); s != "" {
		st, err := domain.ParseStrength(s)
		if err != nil {
			return cfg, invalid("strength must be one of 1.5%%, 2.5%%, 7.5%%")
		}
		cfg.Strength = st
	}

	if d := strings.TrimSpace(q.Date); d != "" {
		ct, err := domain.ParseCivil(d)
		if err != nil {
			return cfg, invalid("date must be YYYY-MM-DD")
		}
		cfg.Date = ct.Date()
	}
	return cfg, nil
}

// HistoryRow one record rendered for the history list.
type HistoryRow struct {
	ID             string                `json:"id"`
	Kind           notify.Kind           `json:"kind"`
	Timestamp      domain.CivilTime      `json:"timestamp"`
	Time           string                `json:"time"`
	Strength       domain.Strength       `json:"strength,omitempty"`
	FillVolume     *float64              `json:"fill_volume,omitempty"`
	DrainVolume    *float64              `json:"drain_volume,omitempty"`
	PreWeight      *float64              `json:"pre_weight,omitempty"`
	PostWeight     *float64              `json:"post_weight,omitempty"`
	UF             *float64              `json:"uf"`
	UFText         string                `json:"uf_text"`
	Balance        string                `json:"balance"`
	Weight         *float64              `json:"weight,omitempty"`
	WeightCategory ledger.WeightCategory `json:"weight_category,omitempty"`
	Notes          string                `json:"notes,omitempty"`
	ImageURL       string                `json:"image_url,omitempty"`
}

type HistoryGroup struct {
	Date    string       `json:"date"`
	TotalUF float64      `json:"total_uf"`
	Rows    []HistoryRow `json:"rows"`
}

// HistoryView "showing X of Y" plus the visible records grouped by civil date.
type HistoryView struct {
	Total      int                 `json:"total"`
	Showing    int                 `json:"showing"`
	Filter     ledger.FilterConfig `json:"filter"`
	MeanWeight *float64            `json:"mean_weight,omitempty"`
	Groups     []HistoryGroup      `json:"groups"`
}

// HistoryService newest-first history with filters, day groups and exports.
type HistoryService struct {
	reader recordReader
	clock  *Clock
	logger *zap.Logger
}

func NewHistoryService(records repository.ExchangeStore, patients repository.PatientsRepository, clock *Clock, logger *zap.Logger) *HistoryService {
	return &HistoryService{
		reader: recordReader{store: records, patients: patients},
		clock:  clock,
		logger: logger,
	}
}

func (s *HistoryService) View(ctx context.Context, patientID string, cfg ledger.FilterConfig) (*HistoryView, error) {
	view, _, err := s.view(ctx, patientID, cfg)
	return view, err
}

func (s *HistoryService) view(ctx context.Context, patientID string, cfg ledger.FilterConfig) (*HistoryView, *domain.Patient, error) {
	patient, err := s.reader.patient(ctx, patientID)
	if err != nil {
		return nil, nil, err
	}
	all, err := s.reader.entries(ctx, patient, repository.ListOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load history: %w", err)
	}

	var session ledger.FilterSession
	if !cfg.IsZero() {
		session.Stage(cfg)
		session.Apply()
	}
	visible := ledger.Visible(&session, all)

	view := &HistoryView{
		Total:   len(all),
		Showing: len(visible),
		Filter:  session.Applied(),
		Groups:  []HistoryGroup{},
	}
	mean, haveMean := ledger.MeanWeight(all)
	if haveMean {
		view.MeanWeight = &mean
	}

	for _, g := range ledger.GroupByCivilDate(visible) {
		group := HistoryGroup{Date: g.Date, TotalUF: g.TotalUF, Rows: make([]HistoryRow, 0, len(g.Records))}
		for _, r := range g.Records {
			group.Rows = append(group.Rows, historyRow(r, mean, haveMean))
		}
		view.Groups = append(view.Groups, group)
	}
	return view, patient, nil
}

func historyRow(r entry, mean float64, haveMean bool) HistoryRow {
	uf := ledger.UFOf(r)
	row := HistoryRow{
		ID:        r.ID(),
		Kind:      r.Kind,
		Timestamp: r.RecordedAt(),
		Time:      r.RecordedAt().Clock12(),
		Strength:  r.Strength(),
		UFText:    uf.String(),
		Balance:   uf.Balance().String(),
	}
	if uf.Known {
		row.UF = domain.Float64(uf.Value)
	}
	if w, ok := r.WeightKg(); ok {
		row.Weight = domain.Float64(w)
		if haveMean {
			row.WeightCategory = ledger.ClassifyWeight(w, mean)
		}
	}
	if r.PD != nil {
		row.FillVolume = domain.Float64(r.PD.FillVolume)
		row.DrainVolume = r.PD.DrainVolume
		row.Notes = r.PD.Notes
		row.ImageURL = r.PD.ImageURL
	} else {
		row.PreWeight = domain.Float64(r.HD.PreWeight)
		row.PostWeight = domain.Float64(r.HD.PostWeight)
		row.Notes = r.HD.Note
	}
	return row
}

// Export renders the filtered history in format.
func (s *HistoryService) Export(ctx context.Context, patientID string, format export.Format, cfg ledger.FilterConfig) ([]byte, string, error) {
	view, patient, err := s.view(ctx, patientID, cfg)
	if err != nil {
		return nil, "", err
	}

	generated := s.clock.Now()
	h := export.History{Patient: patient.FirstName(), GeneratedAt: generated}
	for _, g := range view.Groups {
		eg := export.Group{Date: g.Date, TotalUF: g.TotalUF}
		for _, r := range g.Rows {
			row := export.Row{
				Time:     r.Time,
				Kind:     strings.ToUpper(string(r.Kind)),
				Strength: string(r.Strength),
				UF:       ledger.UF{Known: r.UF != nil},
				Weight:   export.Number(r.Weight),
				Notes:    r.Notes,
			}
			if r.UF != nil {
				row.UF.Value = *r.UF
			}
			if r.Kind == notify.KindPD {
				row.Fill = export.Number(r.FillVolume)
				row.Drain = export.Number(r.DrainVolume)
			} else {
				row.Fill = export.Number(r.PreWeight)
				row.Drain = export.Number(r.PostWeight)
			}
			eg.Rows = append(eg.Rows, row)
		}
		h.Groups = append(h.Groups, eg)
	}

	out, err := export.Render(format, h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to export history: %w", err)
	}
	s.logger.Info("History exported",
		zap.String("patient_id", patientID),
		zap.String("format", string(format)),
		zap.Int("rows", view.Showing),
	)
	return out, format.Filename(generated), nil
}
