package monitoring

import "time"

// Snapshot carries current counter values for the JSON status endpoint.
type Snapshot struct {
	TotalRequests  int64   `json:"totalRequests"`
	TotalErrors    int64   `json:"totalErrors"`
	AvgDurationMS  float64 `json:"avgDurationMs"`
	RemoteRequests int64   `json:"remoteRequests"`
	CacheHits      int64   `json:"cacheHits"`
	CacheMisses    int64   `json:"cacheMisses"`
	StateSaves     int64   `json:"stateSaves"`
	StreamClients  int64   `json:"streamClients"`
	UptimeSeconds  float64 `json:"uptimeSeconds"`
}

// GetSnapshot returns the running totals for /api/status.
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	avg := 0.0
	if m.requests > 0 {
		avg = m.duration / float64(m.requests) * 1000
	}
	return Snapshot{
		TotalRequests:  m.requests,
		TotalErrors:    m.errors,
		AvgDurationMS:  avg,
		RemoteRequests: m.remote,
		CacheHits:      m.hits,
		CacheMisses:    m.misses,
		StateSaves:     m.saves,
		StreamClients:  m.clients,
		UptimeSeconds:  time.Since(m.startTime).Seconds(),
	}
}
