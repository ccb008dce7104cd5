package api

import (
	"math"

	"github.com/hedge-snapshots/internal/models"
	"github.com/hedge-snapshots/internal/service"
)

// finite maps NaN and infinities to nil; encoding/json rejects them
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// accountSnapshotResponse shadows the snapshot's margin so a failed estimate encodes as null
type accountSnapshotResponse struct {
	*models.AccountSnapshot
	Margin *float64 `json:"margin"`
}

func toAccountSnapshots(in []*models.AccountSnapshot) []accountSnapshotResponse {
	out := make([]accountSnapshotResponse, 0, len(in))
	for _, s := range in {
		out = append(out, accountSnapshotResponse{AccountSnapshot: s, Margin: finite(s.Margin)})
	}
	return out
}

type summaryStatsResponse struct {
	*service.SummaryStats
	MarginStart *float64 `json:"marginStart"`
	MarginEnd   *float64 `json:"marginEnd"`
}

func toSummaryStats(s *service.SummaryStats) summaryStatsResponse {
	return summaryStatsResponse{
		SummaryStats: s,
		MarginStart:  finite(s.MarginStart),
		MarginEnd:    finite(s.MarginEnd),
	}
}

type chainVerifyResponse struct {
	Entity string `json:"entity"`
	ID     string `json:"id"`
	Length int    `json:"length"`
	Valid  bool   `json:"valid"`
}

// runRequest triggers a snapshot run. Date defaults to today (UTC).
type runRequest struct {
	Date      string   `json:"date"`
	Companies []string `json:"companies,omitempty"`
}

type redoRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type runResponse struct {
	*service.RunSummary
	Created  int `json:"created"`
	Existing int `json:"existing"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Replaced int `json:"replaced"`
}
