package billing

import (
	"fiscalcore/internal/core/apperror"
)

// Status is the lifecycle state of a document. States only move forward.
type Status string

const (
	StatusDraft          Status = "draft"
	StatusValidated      Status = "validated"
	StatusSentToImprenta Status = "sent_to_imprenta"
	StatusIssued         Status = "issued"
	StatusSent           Status = "sent"
	StatusAdjusted       Status = "adjusted"
	StatusClosed         Status = "closed"
	StatusArchived       Status = "archived"
)

var statusRank = map[Status]int{
	StatusDraft:          0,
	StatusValidated:      1,
	StatusSentToImprenta: 2,
	StatusIssued:         3,
	StatusSent:           4,
	StatusAdjusted:       5,
	StatusClosed:         6,
	StatusArchived:       7,
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanIssue reports whether issuance may start from s.
func (s Status) CanIssue() bool {
	return s == StatusDraft || s == StatusValidated
}

// IssuableStatuses lists the states issuance starts from.
func IssuableStatuses() []Status {
	return []Status{StatusDraft, StatusValidated}
}

// ValidateAdvance checks a manual status change.
//
// sent_to_imprenta and issued are owned by the issuance pipeline and cannot be
// set by hand. validated is only reachable from draft; sent, adjusted, closed
// and archived only after issuance.
func ValidateAdvance(from, to Status) error {
	if !to.IsValid() {
		return apperror.NewValidation("unknown document status").WithDetail("status", to)
	}
	if statusRank[to] <= statusRank[from] {
		return apperror.NewInvalidTransition(string(from), string(to))
	}

	switch to {
	case StatusSentToImprenta, StatusIssued:
		return apperror.NewInvalidTransition(string(from), string(to))
	case StatusValidated:
		if from != StatusDraft {
			return apperror.NewInvalidTransition(string(from), string(to))
		}
	default:
		if statusRank[from] < statusRank[StatusIssued] {
			return apperror.NewInvalidTransition(string(from), string(to))
		}
	}
	return nil
}
