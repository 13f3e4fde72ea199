package domain

import (
	"fmt"
	"time"
)

// Strength dialysate dextrose strength printed on the bag
type Strength string

const (
	Strength1_5 Strength = "1.5%"
	Strength2_5 Strength = "2.5%"
	Strength7_5 Strength = "7.5%"

	DefaultStrength Strength = Strength1_5
)

// Strengths lists the accepted values in display order.
var Strengths = []Strength{Strength1_5, Strength2_5, Strength7_5}

func (s Strength) Valid() bool {
	for _, v := range Strengths {
		if s == v {
			return true
		}
	}
	return false
}

// ParseStrength accepts "1.5%" or "1.5".
func ParseStrength(s string) (Strength, error) {
	st := Strength(s)
	if st.Valid() {
		return st, nil
	}
	if st2 := Strength(s + "%"); st2.Valid() {
		return st2, nil
	}
	return "", fmt.Errorf("unknown strength %q", s)
}

// PDExchange one peritoneal dialysis exchange.
// UF is written by the record store from FillVolume and DrainVolume; it is nil while DrainVolume is unknown.
type PDExchange struct {
	ID             string    `json:"id"`
	PatientID      string    `json:"patient_id"`
	Timestamp      CivilTime `json:"timestamp"`
	BaxterStrength Strength  `json:"baxter_strength"`
	FillVolume     float64   `json:"fill_volume"`
	DrainVolume    *float64  `json:"drain_volume"`
	UF             *float64  `json:"uf"`
	Weight         *float64  `json:"weight"`
	Notes          string    `json:"notes"`
	ImageURL       string    `json:"image_url,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

func (e PDExchange) RecordedAt() CivilTime { return e.Timestamp }

// UFValue returns the stored uf and whether it is known.
func (e PDExchange) UFValue() (float64, bool) {
	if e.UF == nil {
		return 0, false
	}
	return *e.UF, true
}

func (e PDExchange) WeightKg() (float64, bool) {
	if e.Weight == nil {
		return 0, false
	}
	return *e.Weight, true
}

func (e PDExchange) Strength() Strength { return e.BaxterStrength }

// PDEdit the editable subset of a PD exchange. UF is never part of it.
type PDEdit struct {
	FillVolume     float64  `json:"fill_volume"`
	DrainVolume    *float64 `json:"drain_volume"`
	Weight         *float64 `json:"weight"`
	BaxterStrength Strength `json:"baxter_strength"`
	Notes          string   `json:"notes"`
}

// HDExchange one hemodialysis session. UF (kg) is derived by the record store.
type HDExchange struct {
	ID         string    `json:"id"`
	PatientID  string    `json:"patient_id"`
	Timestamp  CivilTime `json:"timestamp"`
	PreWeight  float64   `json:"pre_weight"`
	PostWeight float64   `json:"post_weight"`
	UF         *float64  `json:"uf"`
	Note       string    `json:"note"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

func (e HDExchange) RecordedAt() CivilTime { return e.Timestamp }

func (e HDExchange) UFValue() (float64, bool) {
	if e.UF == nil {
		return 0, false
	}
	return *e.UF, true
}

// WeightKg is the post-session weight.
func (e HDExchange) WeightKg() (float64, bool) { return e.PostWeight, e.PostWeight > 0 }

// Strength is empty; HD sessions carry no dialysate strength.
func (e HDExchange) Strength() Strength { return "" }

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }
