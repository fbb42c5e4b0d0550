package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type RejectionReason string

const (
	ReasonMissingLocation   RejectionReason = "MissingLocation"
	ReasonMissingPrice      RejectionReason = "MissingPrice"
	ReasonMissingSpecs      RejectionReason = "MissingSpecs"
	ReasonNoExtractableData RejectionReason = "NoExtractableData"
)

// ValidationResult is either accepted or rejected with one or more reasons.
// It is immutable once built.
type ValidationResult struct {
	reasons  []RejectionReason
	warnings []string
}

func Accepted(warnings ...string) ValidationResult {
	return ValidationResult{warnings: append([]string(nil), warnings...)}
}

func Rejected(reasons []RejectionReason, warnings ...string) ValidationResult {
	return ValidationResult{
		reasons:  append([]RejectionReason(nil), reasons...),
		warnings: append([]string(nil), warnings...),
	}
}

func (r ValidationResult) IsAccepted() bool {
	return len(r.reasons) == 0
}

func (r ValidationResult) Reasons() []RejectionReason {
	return append([]RejectionReason(nil), r.reasons...)
}

func (r ValidationResult) Warnings() []string {
	return append([]string(nil), r.warnings...)
}

func (r ValidationResult) HasReason(reason RejectionReason) bool {
	for _, rr := range r.reasons {
		if rr == reason {
			return true
		}
	}
	return false
}

func (r ValidationResult) MarshalJSON() ([]byte, error) {
	status := "accepted"
	if !r.IsAccepted() {
		status = "rejected"
	}
	return json.Marshal(struct {
		Status   string            `json:"status"`
		Reasons  []RejectionReason `json:"reasons,omitempty"`
		Warnings []string          `json:"warnings,omitempty"`
	}{status, r.reasons, r.warnings})
}

// NormalizationError records a raw value that could not be coerced. The
// field is dropped and the record continues.
type NormalizationError struct {
	Field  string `json:"field"`
	Raw    string `json:"raw"`
	Reason string `json:"reason"`
}

func (e NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s %q: %s", e.Field, e.Raw, e.Reason)
}

type DuplicateStatus string

const (
	DuplicateUnique   DuplicateStatus = "unique"
	DuplicatePossible DuplicateStatus = "possible_duplicate"
)

// DuplicateVerdict is the cross-source duplicate finding for one listing.
type DuplicateVerdict struct {
	Status       DuplicateStatus `json:"status"`
	CandidateIDs []string        `json:"candidate_ids,omitempty"`
	Confidence   float64         `json:"confidence"`
}

func UniqueVerdict() DuplicateVerdict {
	return DuplicateVerdict{Status: DuplicateUnique}
}

func (v DuplicateVerdict) IsDuplicate() bool {
	return v.Status == DuplicatePossible
}

// RejectionEntry is written to the rejection log for every rejected page.
type RejectionEntry struct {
	SourceURL           string               `json:"source_url"`
	SourceID            string               `json:"source_id"`
	Reasons             []RejectionReason    `json:"reasons"`
	Warnings            []string             `json:"warnings,omitempty"`
	RawFieldBag         map[string]any       `json:"raw_field_bag"`
	NormalizationErrors []NormalizationError `json:"normalization_errors,omitempty"`
	FetchedAt           time.Time            `json:"fetched_at"`
	RejectedAt          time.Time            `json:"rejected_at"`

	// Withdrawn lists earlier accepted listings of the same page, removed
	// together with the rejection.
	Withdrawn      []string        `json:"withdrawn_listings,omitempty"`
	// VerdictUpdates refresh listings that were linked to a withdrawn one.
	VerdictUpdates []VerdictUpdate `json:"-"`
}
