package service

import (
	"context"
	"fmt"

	"dialysis-ledger/internal/domain"
	"dialysis-ledger/internal/ledger"
	"dialysis-ledger/internal/notify"
	"dialysis-ledger/internal/repository"
)

// entry unifies PD and HD records for the ledger functions.
type entry struct {
	Kind notify.Kind
	PD   *domain.PDExchange
	HD   *domain.HDExchange
}

var _ ledger.Filterable = entry{}

func (e entry) RecordedAt() domain.CivilTime {
	if e.PD != nil {
		return e.PD.Timestamp
	}
	return e.HD.Timestamp
}

func (e entry) UFValue() (float64, bool) {
	if e.PD != nil {
		return e.PD.UFValue()
	}
	return e.HD.UFValue()
}

func (e entry) WeightKg() (float64, bool) {
	if e.PD != nil {
		return e.PD.WeightKg()
	}
	return e.HD.WeightKg()
}

func (e entry) Strength() domain.Strength {
	if e.PD != nil {
		return e.PD.Strength()
	}
	return ""
}

func (e entry) ID() string {
	if e.PD != nil {
		return e.PD.ID
	}
	return e.HD.ID
}

// recordReader lists a patient's records of the kind their dialysis type logs.
type recordReader struct {
	store    repository.ExchangeStore
	patients repository.PatientsRepository
}

func (r recordReader) patient(ctx context.Context, patientID string) (*domain.Patient, error) {
	p, err := r.patients.GetPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	if p == nil {
		return nil, ErrNoPatient
	}
	return p, nil
}

func (r recordReader) entries(ctx context.Context, p *domain.Patient, opts repository.ListOptions) ([]entry, error) {
	if p.DialysisType == domain.DialysisHD {
		hd, err := r.store.ListHDExchanges(ctx, p.PatientID, opts)
		if err != nil {
			return nil, err
		}
		out := make([]entry, len(hd))
		for i := range hd {
			out[i] = entry{Kind: notify.KindHD, HD: &hd[i]}
		}
		return out, nil
	}

	pd, err := r.store.ListPDExchanges(ctx, p.PatientID, opts)
	if err != nil {
		return nil, err
	}
	out := make([]entry, len(pd))
	for i := range pd {
		out[i] = entry{Kind: notify.KindPD, PD: &pd[i]}
	}
	return out, nil
}
