package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// HealthResponse is the body served by the health endpoints of every store.
type HealthResponse struct {
	Status string      `json:"status"`
	Store  string      `json:"store"`
	Error  string      `json:"error,omitempty"`
	Stats  interface{} `json:"stats,omitempty"`
}

// PingFunc checks a store and returns its statistics.
type PingFunc func(ctx context.Context) (interface{}, error)

// PoolPing pings pool and reports its statistics.
func PoolPing(pool *pgxpool.Pool) PingFunc {
	return func(ctx context.Context) (interface{}, error) {
		err := pool.Ping(ctx)
		return GetPoolStats(pool), err
	}
}

// HealthHandler serves 200 when ping succeeds within five seconds and 503
// otherwise.
func HealthHandler(store string, ping PingFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		stats, err := ping(ctx)
		if err != nil {
			return c.JSON(http.StatusServiceUnavailable, HealthResponse{
				Status: "unhealthy",
				Store:  store,
				Error:  err.Error(),
				Stats:  stats,
			})
		}
		return c.JSON(http.StatusOK, HealthResponse{
			Status: "healthy",
			Store:  store,
			Stats:  stats,
		})
	}
}
