package repository

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"dialysis-ledger/internal/domain"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// RESTExchangeStore talks to a PostgREST-style endpoint (e.g. Supabase) exposing
// pd_exchanges and hd_exchanges tables. Writes ask for the stored representation.
type RESTExchangeStore struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

func NewRESTExchangeStore(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *RESTExchangeStore {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// only reads are retried; a lost insert response must not create a second row
			if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetHeader("apikey", apiKey).SetAuthToken(apiKey)
	}
	return &RESTExchangeStore{httpClient: client, logger: logger}
}

var _ ExchangeStore = (*RESTExchangeStore)(nil)

type pdRow struct {
	PatientID      string           `json:"patient_id"`
	Timestamp      domain.CivilTime `json:"timestamp"`
	BaxterStrength domain.Strength  `json:"baxter_strength"`
	FillVolume     float64          `json:"fill_volume"`
	DrainVolume    *float64         `json:"drain_volume"`
	Weight         *float64         `json:"weight"`
	Notes          string           `json:"notes,omitempty"`
	ImageURL       string           `json:"image_url,omitempty"`
}

type hdRow struct {
	PatientID  string           `json:"patient_id"`
	Timestamp  domain.CivilTime `json:"timestamp"`
	PreWeight  float64          `json:"pre_weight"`
	PostWeight float64          `json:"post_weight"`
	Note       string           `json:"note,omitempty"`
}

func listQuery(patientID string, opts ListOptions) url.Values {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("patient_id", "eq."+patientID)
	if opts.From != nil {
		q.Add("timestamp", "gte."+opts.From.String())
	}
	if opts.To != nil {
		q.Add("timestamp", "lte."+opts.To.String())
	}
	if opts.Ascending {
		q.Set("order", "timestamp.asc,created_at.asc")
	} else {
		q.Set("order", "timestamp.desc,created_at.desc")
	}
	return q
}

func rowQuery(patientID, id string) url.Values {
	q := url.Values{}
	q.Set("id", "eq."+id)
	q.Set("patient_id", "eq."+patientID)
	return q
}

func (s *RESTExchangeStore) check(op string, resp *resty.Response, err error) error {
	if err != nil {
		s.logger.Error("Record store call failed", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if resp.IsError() {
		s.logger.Error("Record store returned error",
			zap.String("op", op),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("body", resp.String()),
		)
		return fmt.Errorf("failed to %s: record store returned %d", op, resp.StatusCode())
	}
	return nil
}

func (s *RESTExchangeStore) ListPDExchanges(ctx context.Context, patientID string, opts ListOptions) ([]domain.PDExchange, error) {
	out := []domain.PDExchange{}
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetQueryParamsFromValues(listQuery(patientID, opts)).
		SetResult(&out).
		Get("/pd_exchanges")
	if err := s.check("list pd exchanges", resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RESTExchangeStore) InsertPDExchange(ctx context.Context, e *domain.PDExchange) (*domain.PDExchange, error) {
	if e == nil || e.PatientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}
	var stored []domain.PDExchange
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=representation").
		SetBody([]pdRow{{
			PatientID:      e.PatientID,
			Timestamp:      e.Timestamp,
			BaxterStrength: e.BaxterStrength,
			FillVolume:     e.FillVolume,
			DrainVolume:    e.DrainVolume,
			Weight:         e.Weight,
			Notes:          e.Notes,
			ImageURL:       e.ImageURL,
		}}).
		SetResult(&stored).
		Post("/pd_exchanges")
	if err := s.check("insert pd exchange", resp, err); err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, fmt.Errorf("failed to insert pd exchange: empty representation")
	}
	return &stored[0], nil
}

func (s *RESTExchangeStore) UpdatePDExchange(ctx context.Context, patientID, id string, edit domain.PDEdit) (*domain.PDExchange, error) {
	var stored []domain.PDExchange
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=representation").
		SetQueryParamsFromValues(rowQuery(patientID, id)).
		SetBody(edit).
		SetResult(&stored).
		Patch("/pd_exchanges")
	if err := s.check("update pd exchange", resp, err); err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, ErrNotFound
	}
	return &stored[0], nil
}

func (s *RESTExchangeStore) DeletePDExchange(ctx context.Context, patientID, id string) error {
	var deleted []domain.PDExchange
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=representation").
		SetQueryParamsFromValues(rowQuery(patientID, id)).
		SetResult(&deleted).
		Delete("/pd_exchanges")
	if err := s.check("delete pd exchange", resp, err); err != nil {
		return err
	}
	if len(deleted) == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RESTExchangeStore) ListHDExchanges(ctx context.Context, patientID string, opts ListOptions) ([]domain.HDExchange, error) {
	out := []domain.HDExchange{}
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetQueryParamsFromValues(listQuery(patientID, opts)).
		SetResult(&out).
		Get("/hd_exchanges")
	if err := s.check("list hd exchanges", resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RESTExchangeStore) InsertHDExchange(ctx context.Context, e *domain.HDExchange) (*domain.HDExchange, error) {
	if e == nil || e.PatientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}
	var stored []domain.HDExchange
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=representation").
		SetBody([]hdRow{{
			PatientID:  e.PatientID,
			Timestamp:  e.Timestamp,
			PreWeight:  e.PreWeight,
			PostWeight: e.PostWeight,
			Note:       e.Note,
		}}).
		SetResult(&stored).
		Post("/hd_exchanges")
	if err := s.check("insert hd exchange", resp, err); err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, fmt.Errorf("failed to insert hd exchange: empty representation")
	}
	return &stored[0], nil
}

func (s *RESTExchangeStore) DeleteHDExchange(ctx context.Context, patientID, id string) error {
	var deleted []domain.HDExchange
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=representation").
		SetQueryParamsFromValues(rowQuery(patientID, id)).
		SetResult(&deleted).
		Delete("/hd_exchanges")
	if err := s.check("delete hd exchange", resp, err); err != nil {
		return err
	}
	if len(deleted) == 0 {
		return ErrNotFound
	}
	return nil
}
