package api

import (
	"fmt"
	"time"

	"similarusers/internal/cache"
	"similarusers/internal/temporal"
)

// readableTimeFormat is how edit timestamps appear in responses.
const readableTimeFormat = "2006-01-02 15:04:05 UTC"

// SimilarUsersResponse is the /similarusers response payload.
type SimilarUsersResponse struct {
	UserText        string           `json:"user_text"`
	NumEditsInData  int              `json:"num_edits_in_data"`
	FirstEditInData *string          `json:"first_edit_in_data"`
	LastEditInData  *string          `json:"last_edit_in_data"`
	Results         []NeighborResult `json:"results"`
}

// NeighborResult is one entry of the similarity result list.
type NeighborResult struct {
	UserText       string           `json:"user_text"`
	NumEditsInData int              `json:"num_edits_in_data"`
	EditOverlap    float64          `json:"edit-overlap"`
	EditOverlapInv float64          `json:"edit-overlap-inv"`
	DayOverlap     temporal.Overlap `json:"day-overlap"`
	HourOverlap    temporal.Overlap `json:"hour-overlap"`
	FollowUp       *FollowUp        `json:"follow-up,omitempty"`
}

// FollowUp carries links to tools for investigating a result further.
type FollowUp struct {
	Similar             string `json:"similar"`
	EditorInteract      string `json:"editorinteract"`
	InteractionTimeline string `json:"interaction-timeline"`
}

// buildResponse assembles the similarity response for the subject. The
// caller holds the subject's cache lock, so the neighbor list and vectors
// are stable while we read them.
func (s *Server) buildResponse(p *QueryParams) *SimilarUsersResponse {
	meta := s.cache.Meta(p.UserText)
	subjectVec := s.cache.VectorsOf(p.UserText)

	neighbors := s.cache.Neighbors(p.UserText)
	if len(neighbors) > p.NumSimilar {
		neighbors = neighbors[:p.NumSimilar]
	}

	// A live-only subject can have overlaps but no recorded pages yet.
	subjectPages := meta.NumPages
	if subjectPages < 1 {
		subjectPages = 1
	}

	results := make([]NeighborResult, 0, len(neighbors))
	for _, n := range neighbors {
		results = append(results, s.buildResult(p, &subjectVec, n, subjectPages))
	}

	return &SimilarUsersResponse{
		UserText:        p.UserText,
		NumEditsInData:  meta.NumEdits,
		FirstEditInData: formatReadable(meta.OldestEdit),
		LastEditInData:  formatReadable(meta.MostRecentEdit),
		Results:         results,
	}
}

// buildResult scores a single neighbor against the subject.
//
// Live augmentation never advances a neighbor's page count (that would
// leave their metadata in a mixed state where some but not all of their
// edits are counted), so the overlap can exceed the recorded page count;
// edit-overlap-inv is clamped to 1 to keep the ratio sensible. The
// subject's own count is kept current, so edit-overlap needs no clamp.
func (s *Server) buildResult(p *QueryParams, subjectVec *temporal.Vectors, n cache.Neighbor, subjectPages int) NeighborResult {
	numEditsInData := n.Overlap
	invDenom := 1
	if meta, ok := s.cache.MetaOf(n.UserText); ok {
		numEditsInData = meta.NumPages
		if meta.NumPages > 0 {
			invDenom = meta.NumPages
		}
	}

	inv := float64(n.Overlap) / float64(invDenom)
	if inv > 1 {
		inv = 1
	}

	neighborVec := s.cache.VectorsOf(n.UserText)
	r := NeighborResult{
		UserText:       n.UserText,
		NumEditsInData: numEditsInData,
		EditOverlap:    float64(n.Overlap) / float64(subjectPages),
		EditOverlapInv: inv,
		DayOverlap:     temporal.DayOverlap(subjectVec, &neighborVec),
		HourOverlap:    temporal.HourOverlap(subjectVec, &neighborVec),
	}

	if p.Followup {
		f := s.cfg.Followup
		r.FollowUp = &FollowUp{
			Similar: fmt.Sprintf("%s?usertext=%s&k=%d",
				f.URLPrefix, n.UserText, p.NumSimilar),
			EditorInteract:      fmt.Sprintf(f.EditorInteractURL, p.UserText, n.UserText),
			InteractionTimeline: fmt.Sprintf(f.InteractionTimelineURL, p.UserText, n.UserText),
		}
	}
	return r
}

func formatReadable(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(readableTimeFormat)
	return &s
}
