package db

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is a snapshot of the connection pool shared by all tenants.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MinConns        int32  `json:"min_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	// Saturated is set when every allowed connection is checked out.
	Saturated bool `json:"saturated"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MinConns:        pool.Config().MinConns,
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Saturated:       stat.MaxConns() > 0 && stat.AcquiredConns() >= stat.MaxConns(),
	}
}

// Health is the body of the database health endpoint.
type Health struct {
	Status        string     `json:"status"`
	Error         string     `json:"error,omitempty"`
	DefaultTenant string     `json:"default_tenant"`
	Tenants       int        `json:"tenants"`
	Pool          *PoolStats `json:"pool"`
}

// evaluateHealth is healthy only when the database answers and the default
// tenant's schema has been provisioned.
func evaluateHealth(pingErr error, tenants []string, listErr error, defaultTenant string, stats *PoolStats) (int, Health) {
	h := Health{Status: "healthy", DefaultTenant: defaultTenant, Tenants: len(tenants), Pool: stats}
	switch {
	case pingErr != nil:
		h.Error = pingErr.Error()
	case listErr != nil:
		h.Error = listErr.Error()
	case defaultTenant != "" && !slices.Contains(tenants, defaultTenant):
		h.Error = fmt.Sprintf("schema for tenant %q is not provisioned", defaultTenant)
	default:
		return http.StatusOK, h
	}
	h.Status = "unhealthy"
	return http.StatusServiceUnavailable, h
}

// HealthHandler reports pool usage and tenant provisioning.
func HealthHandler(pool *pgxpool.Pool, defaultTenant string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		var tenants []string
		pingErr := pool.Ping(ctx)
		var listErr error
		if pingErr == nil {
			tenants, listErr = ListTenants(ctx, pool)
		}
		status, body := evaluateHealth(pingErr, tenants, listErr, defaultTenant, GetPoolStats(pool))
		return c.JSON(status, body)
	}
}
