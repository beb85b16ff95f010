package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashureev/videa/internal/llm/llmtest"
	"github.com/stretchr/testify/require"
)

func TestHealthMonitorTracksGateway(t *testing.T) {
	fake := llmtest.New()
	m := NewHealthMonitor(fake, time.Hour, nil)

	st := m.Check(context.Background())
	require.True(t, st.Available)
	require.Equal(t, "fake", st.Provider)

	fake.SetHealth(errors.New("connection refused"))
	st = m.Check(context.Background())
	require.False(t, st.Available)
	require.Contains(t, st.Error, "connection refused")
	require.Equal(t, st, m.Status())
}

func TestHealthMonitorStopsWithContext(t *testing.T) {
	fake := llmtest.New()
	m := NewHealthMonitor(fake, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	fake.SetHealth(errors.New("down"))
	require.Eventually(t, func() bool { return !m.Status().Available }, time.Second, 5*time.Millisecond)
	cancel()
}
