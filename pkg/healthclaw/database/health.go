package database

import (
	"context"
	"time"
)

// HealthStatus represents the health state of the database.
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Backend BackendType   `json:"backend"`
	Latency time.Duration `json:"latency"`
	Version string        `json:"version"`
	Error   string        `json:"error,omitempty"`

	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// Status pings the database and reports pool metrics.
func (s *Store) Status(ctx context.Context) HealthStatus {
	st := HealthStatus{Backend: s.backend}

	start := time.Now()
	if err := s.db.PingContext(ctx); err != nil {
		st.Error = err.Error()
		return st
	}
	st.Latency = time.Since(start)
	st.Healthy = true

	versionQuery := "SELECT sqlite_version()"
	if s.backend == BackendPostgreSQL {
		versionQuery = "SHOW server_version"
	}
	if err := s.db.QueryRowContext(ctx, versionQuery).Scan(&st.Version); err != nil {
		st.Version = "unknown"
	}

	stats := s.db.Stats()
	st.OpenConnections = stats.OpenConnections
	st.InUse = stats.InUse
	st.Idle = stats.Idle
	st.WaitCount = stats.WaitCount
	return st
}
