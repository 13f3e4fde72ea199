// Package notify carries record-change events from the API to push subscribers.
package notify

import (
	"context"
	"encoding/json"
	"errors"
)

type Kind string

const (
	KindPD Kind = "pd"
	KindHD Kind = "hd"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// ChangeEvent one record-affecting change. Fields holds the changed field set;
// Timestamp is Unix milliseconds.
type ChangeEvent struct {
	PatientID string         `json:"patient_id"`
	Kind      Kind           `json:"kind"`
	RecordID  string         `json:"record_id"`
	Op        Op             `json:"op"`
	Fields    map[string]any `json:"fields,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// Publisher emits change events after a successful mutation.
type Publisher interface {
	Publish(ctx context.Context, ev ChangeEvent) error
}

// Handler is the onRecordChanged(patientID, changedFields) contract consumers implement.
type Handler interface {
	OnRecordChanged(ctx context.Context, ev ChangeEvent) error
}

type HandlerFunc func(ctx context.Context, ev ChangeEvent) error

func (f HandlerFunc) OnRecordChanged(ctx context.Context, ev ChangeEvent) error { return f(ctx, ev) }

// Handlers runs every handler; all of them see the event even if one fails.
type Handlers []Handler

func (hs Handlers) OnRecordChanged(ctx context.Context, ev ChangeEvent) error {
	var errs []error
	for _, h := range hs {
		if err := h.OnRecordChanged(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NopPublisher drops events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ChangeEvent) error { return nil }

// FieldsOf flattens a record into its JSON field set.
func FieldsOf(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	return fields
}
