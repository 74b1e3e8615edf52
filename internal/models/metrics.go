package models

import "time"

// SystemMetricsSnapshot aggregates runtime counters for the ops endpoint.
type SystemMetricsSnapshot struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	PublishedTotal           uint64    `json:"published_total"`
	PublishFailures          uint64    `json:"publish_failures"`
	DeliveriesDispatched     uint64    `json:"deliveries_dispatched"`
	DeliveryFailures         uint64    `json:"delivery_failures"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
