package config

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"

	apperrors "github.com/skypro1111/overlay-transcriber/internal/errors"
)

// Runtime parameter names as accepted by the control API.
const (
	ParamSilenceThreshold    = "silenceThreshold"
	ParamNormalizationTarget = "normalizationTarget"
	ParamHighPassCutoff      = "highPassCutoff"
	ParamAGCTargetLevel      = "agcTargetLevel"
	ParamVADEnergyThreshold  = "vadEnergyThreshold"
	ParamConfidenceThreshold = "confidenceThreshold"
	ParamMaxParallelChunks   = "maxParallelChunks"
)

// ParamRange is the inclusive range a runtime parameter must fall in.
type ParamRange struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Integer bool    `json:"integer"`
}

// ParameterRanges lists every runtime-adjustable parameter.
var ParameterRanges = map[string]ParamRange{
	ParamSilenceThreshold:    {Min: -60, Max: -10},
	ParamNormalizationTarget: {Min: -30, Max: -10},
	ParamHighPassCutoff:      {Min: 100, Max: 800},
	ParamAGCTargetLevel:      {Min: -30, Max: -10},
	ParamVADEnergyThreshold:  {Min: -40, Max: -20},
	ParamConfidenceThreshold: {Min: 0, Max: 1}, // 0 disables the floor
	ParamMaxParallelChunks:   {Min: 1, Max: 4, Integer: true},
}

// UnknownParameterError reports a parameter name nobody handles.
func UnknownParameterError(name string) error {
	return apperrors.Newf(apperrors.KindValidation, "unknown parameter: %s", name).
		WithMetadata("parameter", name)
}

func toFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// ValidateParameter checks the type and range of a runtime update and
// returns the value as float64. Errors are validation AppErrors.
func ValidateParameter(name string, raw interface{}) (float64, error) {
	r, ok := ParameterRanges[name]
	if !ok {
		return 0, UnknownParameterError(name)
	}

	v, ok := toFloat(raw)
	if !ok {
		return 0, apperrors.Newf(apperrors.KindValidation, "invalid type for %s: expected number, got %T", name, raw).
			WithMetadata("parameter", name)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, apperrors.Newf(apperrors.KindValidation, "invalid value for %s: %v", name, v).
			WithMetadata("parameter", name)
	}
	if r.Integer && v != math.Trunc(v) {
		return 0, apperrors.Newf(apperrors.KindValidation, "%s must be a whole number, got %v", name, v).
			WithMetadata("parameter", name)
	}
	if v < r.Min || v > r.Max {
		return 0, apperrors.Newf(apperrors.KindValidation, "parameter %s out of range [%v, %v], got %v", name, r.Min, r.Max, v).
			WithMetadata("parameter", name)
	}
	return v, nil
}

// ParameterUpdate describes one accepted change.
type ParameterUpdate struct {
	Name     string  `json:"name"`
	OldValue float64 `json:"old_value"`
	NewValue float64 `json:"new_value"`
}

// Parameters holds the current runtime parameter values.
type Parameters struct {
	values map[string]float64
	mu     sync.RWMutex
}

// NewParameters validates the initial values.
func NewParameters(initial map[string]float64) (*Parameters, error) {
	values := make(map[string]float64, len(ParameterRanges))
	for name, v := range initial {
		checked, err := ValidateParameter(name, v)
		if err != nil {
			return nil, err
		}
		values[name] = checked
	}
	return &Parameters{values: values}, nil
}

// Check validates raw without storing it.
func (p *Parameters) Check(name string, raw interface{}) (ParameterUpdate, error) {
	v, err := ValidateParameter(name, raw)
	if err != nil {
		return ParameterUpdate{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return ParameterUpdate{Name: name, OldValue: p.values[name], NewValue: v}, nil
}

// Set validates and stores raw. A rejected value leaves the old one in effect.
func (p *Parameters) Set(name string, raw interface{}) (ParameterUpdate, error) {
	v, err := ValidateParameter(name, raw)
	if err != nil {
		return ParameterUpdate{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	update := ParameterUpdate{Name: name, OldValue: p.values[name], NewValue: v}
	p.values[name] = v
	return update, nil
}

// Get returns the current value of a parameter.
func (p *Parameters) Get(name string) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[name]
	return v, ok
}

// Snapshot copies all current values.
func (p *Parameters) Snapshot() map[string]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]float64, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// Names returns the supported parameter names sorted.
func Names() []string {
	names := make([]string, 0, len(ParameterRanges))
	for name := range ParameterRanges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// String renders a range for error messages and docs.
func (r ParamRange) String() string {
	return fmt.Sprintf("[%v, %v]", r.Min, r.Max)
}
