package models

import "time"

// SystemMetrics is a process-local snapshot shown next to participant metrics.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	ValidationsCreated       uint64    `json:"validations_created"`
	Registrations            uint64    `json:"registrations"`
	SweptValidations         uint64    `json:"swept_validations"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
