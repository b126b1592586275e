package metrics

// TechnicalMetrics aggregates all technical-level metrics for the lobby service.
//
// Technical metrics track system internals:
//   - HTTP requests (via existing HTTPMetrics)
//   - Retry/backoff behavior (via existing RetryMetrics)
//
// This is an aggregator struct that groups existing metrics under the technical category.
//
// Example:
//
//	tm := NewTechnicalMetrics("apworlds_lobby")
//	tm.HTTP.RecordRequest("GET", "/room/{id}/generation/status", 200, 0.123)
type TechnicalMetrics struct {
	namespace string

	// HTTP subsystem - existing metrics from prometheus.go
	HTTP *HTTPMetrics

	// Retry subsystem - queue dispatcher retry/backoff metrics
	Retry *RetryMetrics
}

// NewTechnicalMetrics creates a new TechnicalMetrics aggregator.
//
// Parameters:
//   - namespace: The Prometheus namespace (typically "apworlds_lobby")
//
// Returns:
//   - *TechnicalMetrics: Initialized technical metrics aggregator
func NewTechnicalMetrics(namespace string) *TechnicalMetrics {
	return &TechnicalMetrics{
		namespace: namespace,
		HTTP:      NewHTTPMetricsWithNamespace(namespace, "technical_http"),
		Retry:     NewRetryMetrics(),
	}
}
