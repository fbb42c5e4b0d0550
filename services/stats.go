package services

import (
	"encoding/json"

	"listing_canon/models"
)

// ProcessStats tracks aggregate statistics for a batch run. It is not safe
// for concurrent use; callers aggregate under their own lock.
type ProcessStats struct {
	PagesProcessed      int
	Accepted            int
	Rejected            int
	Duplicates          int
	LowConfidence       int
	Warnings            int
	NormalizationErrors int
	ExtractionFailures  int
	FetchErrors         int
	Errors              int
	Reasons             map[models.RejectionReason]int
}

// Aggregate adds a ProcessResult to the stats
func (s *ProcessStats) Aggregate(r *ProcessResult) {
	s.PagesProcessed++
	s.Warnings += r.Warnings
	s.NormalizationErrors += len(r.NormalizationErrors)
	s.ExtractionFailures += r.ExtractionFailures
	if !r.Accepted {
		s.Rejected++
		if s.Reasons == nil {
			s.Reasons = make(map[models.RejectionReason]int)
		}
		for _, reason := range r.Reasons {
			s.Reasons[reason]++
		}
		return
	}
	s.Accepted++
	if r.Duplicate {
		s.Duplicates++
	}
	if r.LowConfidence {
		s.LowConfidence++
	}
}

// ApplyTo copies the counters onto the run record.
func (s *ProcessStats) ApplyTo(run *models.BatchRun) {
	run.PagesSeen = s.PagesProcessed + s.FetchErrors
	run.Accepted = s.Accepted
	run.Rejected = s.Rejected
	run.Duplicates = s.Duplicates
	run.FetchErrors = s.FetchErrors
	run.ErrorsCount = s.Errors
}

// ToJSON returns JSON-serializable metadata
func (s *ProcessStats) ToJSON() json.RawMessage {
	reasons := make(map[string]int, len(s.Reasons))
	for r, n := range s.Reasons {
		reasons[string(r)] = n
	}
	data, _ := json.Marshal(map[string]any{
		"pages_processed":      s.PagesProcessed,
		"accepted":             s.Accepted,
		"rejected":             s.Rejected,
		"duplicates":           s.Duplicates,
		"low_confidence":       s.LowConfidence,
		"warnings":             s.Warnings,
		"normalization_errors": s.NormalizationErrors,
		"extraction_failures":  s.ExtractionFailures,
		"fetch_errors":         s.FetchErrors,
		"errors":               s.Errors,
		"rejection_reasons":    reasons,
	})
	return data
}
