package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/videa/internal/llm"
)

// GatewayStatus is the last observed availability of the language model.
type GatewayStatus struct {
	Provider  string    `json:"provider"`
	Available bool      `json:"available"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
}

// HealthMonitor polls the gateway in the background so health requests never wait on it.
type HealthMonitor struct {
	gateway  llm.Gateway
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	status GatewayStatus
}

// NewHealthMonitor creates a monitor. Call Start to begin polling.
func NewHealthMonitor(gateway llm.Gateway, interval time.Duration, logger *slog.Logger) *HealthMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timeout := 5 * time.Second
	if interval < timeout {
		timeout = interval
	}
	return &HealthMonitor{
		gateway:  gateway,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		status:   GatewayStatus{Provider: gateway.Name()},
	}
}

// Start runs one check immediately and then one per interval until ctx is done.
func (m *HealthMonitor) Start(ctx context.Context) {
	m.Check(ctx)
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.logger.Info("Gateway health monitor started", "provider", m.gateway.Name(), "interval", m.interval)
		for {
			select {
			case <-ctx.Done():
				m.logger.Info("Gateway health monitor stopped")
				return
			case <-ticker.C:
				m.Check(ctx)
			}
		}
	}()
}

// Check probes the gateway once and records the outcome.
func (m *HealthMonitor) Check(ctx context.Context) GatewayStatus {
	checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.gateway.Health(checkCtx)
	next := GatewayStatus{
		Provider:  m.gateway.Name(),
		Available: err == nil,
		CheckedAt: time.Now().UTC(),
	}
	if err != nil {
		next.Error = err.Error()
	}

	m.mu.Lock()
	prev := m.status
	m.status = next
	m.mu.Unlock()

	switch {
	case prev.CheckedAt.IsZero():
		m.logger.Info("Gateway health", "provider", next.Provider, "available", next.Available, "error", next.Error)
	case prev.Available && !next.Available:
		m.logger.Warn("Gateway became unavailable", "provider", next.Provider, "error", next.Error)
	case !prev.Available && next.Available:
		m.logger.Info("Gateway recovered", "provider", next.Provider)
	}
	return next
}

// Status returns the most recent check result.
func (m *HealthMonitor) Status() GatewayStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}
