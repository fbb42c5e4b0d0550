package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"listing_canon/models"
)

// RecordSink receives the pipeline's output. A TableGroup is written as
// one unit: either every row lands or none does.
type RecordSink interface {
	WriteGroup(ctx context.Context, g *models.TableGroup) error
	WriteRejection(ctx context.Context, r *models.RejectionEntry) error
}

// MultiSink fans writes out to several sinks in order. The first failure
// stops the write and is returned.
type MultiSink []RecordSink

func (m MultiSink) WriteGroup(ctx context.Context, g *models.TableGroup) error {
	for i, s := range m {
		if err := s.WriteGroup(ctx, g); err != nil {
			return fmt.Errorf("sink %d: %w", i, err)
		}
	}
	return nil
}

func (m MultiSink) WriteRejection(ctx context.Context, r *models.RejectionEntry) error {
	for i, s := range m {
		if err := s.WriteRejection(ctx, r); err != nil {
			return fmt.Errorf("sink %d: %w", i, err)
		}
	}
	return nil
}

// MemorySink keeps everything in memory. Used for dry runs.
type MemorySink struct {
	mu         sync.Mutex
	groups     map[string]*models.TableGroup
	order      []string
	rejections map[string]*models.RejectionEntry
}

func NewMemorySink() *MemorySink {
	return &MemorySink{
		groups:     make(map[string]*models.TableGroup),
		rejections: make(map[string]*models.RejectionEntry),
	}
}

// WriteGroup stores g keyed by its listing id, replacing any earlier write
// of the same listing.
func (m *MemorySink) WriteGroup(ctx context.Context, g *models.TableGroup) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(g.Listings) == 0 {
		return errors.New("table group without listing")
	}
	l := g.Listings[0]
	if _, ok := m.groups[l.ListingID]; !ok {
		m.order = append(m.order, l.ListingID)
	}
	m.groups[l.ListingID] = g
	delete(m.rejections, l.SourceURL)

	for _, u := range g.VerdictUpdates {
		if other, ok := m.groups[u.ListingID]; ok && len(other.Listings) > 0 {
			applyVerdict(&other.Listings[0], u.Verdict)
		}
	}
	return nil
}

// WriteRejection drops groups stored for the same page or named in
// r.Withdrawn before recording r.
func (m *MemorySink) WriteRejection(ctx context.Context, r *models.RejectionEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	withdrawn := make(map[string]bool, len(r.Withdrawn))
	for _, id := range r.Withdrawn {
		withdrawn[id] = true
	}
	kept := m.order[:0]
	for _, id := range m.order {
		g := m.groups[id]
		if withdrawn[id] || (len(g.Listings) > 0 && g.Listings[0].SourceURL == r.SourceURL) {
			delete(m.groups, id)
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept

	for _, u := range r.VerdictUpdates {
		if other, ok := m.groups[u.ListingID]; ok && len(other.Listings) > 0 {
			applyVerdict(&other.Listings[0], u.Verdict)
		}
	}
	m.rejections[r.SourceURL] = r
	return nil
}

// Groups returns the stored groups in first-write order.
func (m *MemorySink) Groups() []*models.TableGroup {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.TableGroup, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.groups[id])
	}
	return out
}

func (m *MemorySink) Rejections() []*models.RejectionEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.RejectionEntry, 0, len(m.rejections))
	for _, r := range m.rejections {
		out = append(out, r)
	}
	return out
}

func applyVerdict(row *models.ListingRow, v models.DuplicateVerdict) {
	row.DuplicateStatus = string(v.Status)
	row.DuplicateCandidates = v.CandidateIDs
	row.DuplicateConfidence = v.Confidence
}
