// Package mission holds the mission record, its status state machine, and
// the stores that persist it.
package mission

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mbhatt1/hive-sub000/internal/types"
	"github.com/mbhatt1/hive-sub000/internal/workflow"
)

// Scan types understood by the router. Any other value takes the code path.
const (
	ScanTypeAWS  = "aws"
	ScanTypeCode = "code"
)

// ContextKeyScanType is the context key the router inspects.
const ContextKeyScanType = "scan_type"

// Mission is one pipeline execution.
type Mission struct {
	ID            types.ID          `json:"mission_id"`
	ScanType      string            `json:"scan_type"`
	Status        Status            `json:"status"`
	Context       workflow.Document `json:"context"`
	Error         string            `json:"error,omitempty"`
	FindingsCount int               `json:"findings_count"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}

// New creates an INTAKEN mission from validated input.
func New(in Input) *Mission {
	now := time.Now().UTC()
	return &Mission{
		ID:        in.MissionID,
		ScanType:  in.ScanType,
		Status:    StatusIntaken,
		Context:   in.Document(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of the mission.
func (m *Mission) Clone() *Mission {
	if m == nil {
		return nil
	}
	out := *m
	out.Context = m.Context.Clone()
	if m.CompletedAt != nil {
		t := *m.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// Duration returns how long the mission ran, or has been running.
func (m *Mission) Duration() time.Duration {
	if m.CompletedAt != nil {
		return m.CompletedAt.Sub(m.CreatedAt)
	}
	return time.Since(m.CreatedAt)
}

// Delta is a partial update applied together with a status change.
type Delta struct {
	// Context keys replace the top-level keys of the same name.
	Context workflow.Document
	// Error is recorded when non-empty.
	Error string
	// FindingsCount is recorded when non-nil.
	FindingsCount *int
}

// Apply moves the mission to status and merges delta. Re-applying the current
// status is allowed and only merges the delta.
func (m *Mission) Apply(status Status, delta Delta, now time.Time) error {
	if status != m.Status && !m.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Status, status)
	}
	if m.Status.IsTerminal() && len(delta.Context) > 0 {
		return fmt.Errorf("%w: mission %s is %s", ErrInvalidTransition, m.ID, m.Status)
	}

	if m.Context == nil {
		m.Context = workflow.Document{}
	}
	for k, v := range delta.Context {
		if k == workflow.MissionIDKey {
			continue
		}
		m.Context[k] = v
	}
	if delta.Error != "" {
		m.Error = delta.Error
	}
	if delta.FindingsCount != nil {
		m.FindingsCount = *delta.FindingsCount
	}

	m.Status = status
	m.UpdatedAt = now
	if status.IsTerminal() && m.CompletedAt == nil {
		t := now
		m.CompletedAt = &t
	}
	return nil
}

// Input is the mission intake payload.
type Input struct {
	MissionID types.ID       `json:"mission_id" mapstructure:"mission_id" validate:"required"`
	ScanType  string         `json:"scan_type" mapstructure:"scan_type"`
	Params    map[string]any `json:"params,omitempty" mapstructure:",remain"`
}

var inputValidator = validator.New()

// Validate checks the intake payload. With strict set, scan types other than
// aws and code are rejected instead of falling through to the code path.
func (in Input) Validate(strict bool) error {
	if err := inputValidator.Struct(in); err != nil {
		return fmt.Errorf("invalid mission input: %w", err)
	}
	if err := in.MissionID.Validate(); err != nil {
		return fmt.Errorf("invalid mission input: %w", err)
	}
	if strict && in.ScanType != ScanTypeAWS && in.ScanType != ScanTypeCode {
		return fmt.Errorf("invalid mission input: scan_type must be one of [%s %s] (got: %q)", ScanTypeAWS, ScanTypeCode, in.ScanType)
	}
	for k := range in.Params {
		if strings.EqualFold(k, workflow.MissionIDKey) {
			return fmt.Errorf("invalid mission input: parameter %q is reserved", k)
		}
	}
	return nil
}

// Document returns the initial mission context: the pipeline parameters as
// top-level keys plus mission_id and scan_type.
func (in Input) Document() workflow.Document {
	raw := make(map[string]any, len(in.Params)+2)
	for k, v := range in.Params {
		raw[k] = v
	}
	raw[workflow.MissionIDKey] = in.MissionID.String()
	if in.ScanType != "" {
		raw[ContextKeyScanType] = in.ScanType
	}
	return workflow.NewDocument(raw)
}
