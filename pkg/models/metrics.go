package models

import "time"

// AggregateMetrics are process-wide counters derived from terminal workflow records.
type AggregateMetrics struct {
	TotalSeen             int                  `json:"total_seen"`
	TotalCompleted        int                  `json:"total_completed"`
	TotalFailed           int                  `json:"total_failed"`
	InFlight              int                  `json:"in_flight"`
	AverageProcessingTime time.Duration        `json:"average_processing_time_ns"`
	StageSuccess          map[string]int       `json:"stage_success"`
	StageFailure          map[string]int       `json:"stage_failure"`
	ByStrategy            map[Strategy]int     `json:"by_strategy"`
	ByRiskCategory        map[RiskCategory]int `json:"by_risk_category"`
	UpdatedAt             time.Time            `json:"updated_at"`
}

// SuccessRate is completed over terminal workflows, zero when nothing finished yet.
func (m AggregateMetrics) SuccessRate() float64 {
	terminal := m.TotalCompleted + m.TotalFailed
	if terminal == 0 {
		return 0
	}

	return float64(m.TotalCompleted) / float64(terminal)
}
