package storage

import (
	"context"
	"math"
	"sort"
	"time"
)

const topFindingsLimit = 5

// SummaryStats aggregates audit records stored since a time
func (s *Store) SummaryStats(ctx context.Context, since time.Time) (Stats, error) {
	records, err := s.AuditSince(ctx, since)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Since:      since,
		BySeverity: make(map[string]int),
		ByDomain:   make(map[string]int),
	}

	titles := make(map[string]int)
	var riskSum float64

	for _, rec := range records {
		stats.TotalEvents++
		stats.TotalFindings += len(rec.Findings)
		stats.BySeverity[rec.Severity.String()]++
		stats.ByDomain[string(rec.Domain)]++
		riskSum += rec.RiskScore
		if rec.LLMUsed {
			stats.LLMUsed++
		}
		if rec.GuardrailsPassed {
			stats.GuardrailsPassed++
		}
		for _, f := range rec.Findings {
			titles[f.Title]++
		}
	}

	if stats.TotalEvents > 0 {
		stats.AverageRisk = math.Round(riskSum/float64(stats.TotalEvents)*100) / 100
	}

	stats.TopFindings = topTitles(titles, topFindingsLimit)
	return stats, nil
}

func topTitles(counts map[string]int, limit int) []TitleCount {
	out := make([]TitleCount, 0, len(counts))
	for title, n := range counts {
		out = append(out, TitleCount{Title: title, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Title < out[j].Title
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
