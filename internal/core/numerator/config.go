// Package numerator provides domain contracts for document auto-numbering.
package numerator

import (
	"math"
	"strconv"
	"time"

	"fiscalcore/internal/core/apperror"
	"fiscalcore/internal/core/id"
)

// Status of a numbering series.
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusClosed Status = "closed"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusClosed:
		return true
	}
	return false
}

// Sequence is a tenant-scoped numbering series (SequenceCounter).
// CurrentNumber is the last number handed out; 0 means none yet.
type Sequence struct {
	ID            id.ID     `db:"id" json:"id"`
	TenantID      string    `db:"tenant_id" json:"-"`
	Name          string    `db:"name" json:"name"`
	Type          string    `db:"type" json:"type"`
	Prefix        string    `db:"prefix" json:"prefix"`
	CurrentNumber int64     `db:"current_number" json:"currentNumber"`
	RangeStart    *int64    `db:"range_start" json:"rangeStart,omitempty"`
	RangeEnd      *int64    `db:"range_end" json:"rangeEnd,omitempty"`
	Status        Status    `db:"status" json:"status"`
	IsDefault     bool      `db:"is_default" json:"isDefault"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

// Limit is the highest number the series may hand out.
// An unconfigured range end is effectively unbounded.
func (s *Sequence) Limit() int64 {
	if s.RangeEnd == nil {
		return math.MaxInt64
	}
	return *s.RangeEnd
}

// Format renders a counter value as prefix + number.
// No padding is added: zero-padding, if wanted, belongs in the prefix.
func Format(prefix string, n int64) string {
	return prefix + strconv.FormatInt(n, 10)
}

// ValidateStatusChange checks a series status transition.
// Closed is terminal; everything else may move freely between active and paused.
func ValidateStatusChange(from, to Status) error {
	if !to.IsValid() {
		return apperror.NewValidation("unknown series status").WithDetail("status", to)
	}
	if from == StatusClosed && to != StatusClosed {
		return apperror.NewInvalidTransition(string(from), string(to))
	}
	return nil
}

// NewSequence builds a series ready to be provisioned.
// startNumber is the first number that will be handed out; when it is zero the
// range start (or 1) is used.
func NewSequence(tenantID, name, docType, prefix string, startNumber int64, rangeStart, rangeEnd *int64, isDefault bool) (*Sequence, error) {
	first := startNumber
	if first <= 0 {
		first = 1
		if rangeStart != nil {
			first = *rangeStart
		}
	}
	if first < 1 {
		return nil, apperror.NewValidation("series must start at 1 or above")
	}
	if rangeStart != nil && first < *rangeStart {
		return nil, apperror.NewValidation("start number is below the range start")
	}
	if rangeEnd != nil && first > *rangeEnd {
		return nil, apperror.NewValidation("start number is above the range end")
	}

	now := time.Now().UTC()
	return &Sequence{
		ID:            id.New(),
		TenantID:      tenantID,
		Name:          name,
		Type:          docType,
		Prefix:        prefix,
		CurrentNumber: first - 1,
		RangeStart:    rangeStart,
		RangeEnd:      rangeEnd,
		Status:        StatusActive,
		IsDefault:     isDefault,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}
