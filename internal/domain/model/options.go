package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rchs819/leela-zero-server/internal/digest"
)

// Option keys as they appear on the wire and in match requests.
const (
	OptionVisits             = "visits"
	OptionPlayouts           = "playouts"
	OptionResignationPercent = "resignation_percent"
	OptionNoise              = "noise"
	OptionRandomCount        = "randomcnt"
)

// Options is the normalized engine configuration for a game. Visits and
// Playouts select the search budget and are mutually exclusive; zero means unset.
type Options struct {
	Visits             int     `json:"visits,omitempty"`
	Playouts           int     `json:"playouts,omitempty"`
	ResignationPercent float64 `json:"resignation_percent"`
	Noise              bool    `json:"noise"`
	RandomCount        int     `json:"randomcnt"`
}

// NormalizeOptions builds Options from loosely typed values. Numbers may be
// given as numbers or strings, noise as a bool or a string.
func NormalizeOptions(raw map[string]any) (Options, error) {
	var o Options
	var err error

	if o.Visits, err = intValue(raw, OptionVisits); err != nil {
		return Options{}, err
	}
	if o.Playouts, err = intValue(raw, OptionPlayouts); err != nil {
		return Options{}, err
	}
	if o.ResignationPercent, err = floatValue(raw, OptionResignationPercent); err != nil {
		return Options{}, err
	}
	if o.Noise, err = boolValue(raw, OptionNoise); err != nil {
		return Options{}, err
	}
	if o.RandomCount, err = intValue(raw, OptionRandomCount); err != nil {
		return Options{}, err
	}
	if o.Visits < 0 || o.Playouts < 0 || o.RandomCount < 0 || o.ResignationPercent < 0 {
		return Options{}, Validationf("options must not be negative")
	}
	return o, nil
}

// Validate checks that exactly one search budget is selected.
func (o Options) Validate() error {
	switch {
	case o.Visits > 0 && o.Playouts > 0:
		return Validationf("set only playouts or visits, not both")
	case o.Visits <= 0 && o.Playouts <= 0:
		return Validationf("one of playouts or visits is required")
	}
	return nil
}

// Fingerprint is the deterministic correlation key for these options: a short
// digest over the budget, resignation, noise and random-move values in a fixed order.
func (o Options) Fingerprint() string {
	budget := o.Playouts
	if o.Visits > 0 {
		budget = o.Visits
	}
	return digest.Fingerprint(
		strconv.Itoa(budget) +
			formatNumber(o.ResignationPercent) +
			strconv.FormatBool(o.Noise) +
			strconv.Itoa(o.RandomCount),
	)
}

// Wire renders the options the way workers expect them: every value a string,
// and playouts forced to "0" when visits drive the search.
func (o Options) Wire() map[string]string {
	m := map[string]string{
		OptionPlayouts:           strconv.Itoa(o.Playouts),
		OptionResignationPercent: formatNumber(o.ResignationPercent),
		OptionNoise:              strconv.FormatBool(o.Noise),
		OptionRandomCount:        strconv.Itoa(o.RandomCount),
	}
	if o.Visits > 0 {
		m[OptionVisits] = strconv.Itoa(o.Visits)
		m[OptionPlayouts] = "0"
	}
	return m
}

// Value implements driver.Valuer so options are stored as a JSON document.
func (o Options) Value() (driver.Value, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Scan implements sql.Scanner.
func (o *Options) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, o)
	case string:
		return json.Unmarshal([]byte(v), o)
	case nil:
		*o = Options{}
		return nil
	default:
		return fmt.Errorf("scan options: unsupported type %T", src)
	}
}

func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func floatValue(raw map[string]any, key string) (float64, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, Validationf("%s: %q is not a number", key, t.String())
		}
		return f, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, Validationf("%s: %q is not a number", key, t)
		}
		return f, nil
	default:
		return 0, Validationf("%s: unsupported type %T", key, v)
	}
}

func intValue(raw map[string]any, key string) (int, error) {
	f, err := floatValue(raw, key)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, Validationf("%s: %v is not an integer", key, f)
	}
	return int(f), nil
}

func boolValue(raw map[string]any, key string) (bool, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return false, nil
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return false, nil
		}
		b, err := strconv.ParseBool(s)
		if err != nil {
			return false, Validationf("%s: %q is not a boolean", key, t)
		}
		return b, nil
	case float64:
		return t != 0, nil
	case int:
		return t != 0, nil
	default:
		return false, Validationf("%s: unsupported type %T", key, v)
	}
}
