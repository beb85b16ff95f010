package conversation

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConversationLoggerWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewConversationLogger(ConversationLogConfig{
		Enabled:       true,
		Dir:           dir,
		GlobalEnabled: true,
		QueueSize:     16,
	}, slog.Default())
	require.NoError(t, err)
	defer func() { _ = logger.Close() }()

	logger.Log(ConversationLogEvent{
		UserID:     "anon_1234abcd",
		SessionID:  "sess-1",
		Channel:    "http",
		Direction:  "inbound",
		EventType:  "user_message",
		ContentRaw: "I manage a team of \x1b[1mfive\x1b[0m",
	})

	line := waitForLogLine(t, filepath.Join(dir, "anon_1234abcd", "sess-1.ndjson"))
	var got ConversationLogEvent
	require.NoError(t, json.Unmarshal([]byte(line), &got))
	require.Equal(t, "user_message", got.EventType)
	require.Equal(t, "I manage a team of five", got.Content)
	require.False(t, got.Timestamp.IsZero())

	waitForLogLine(t, filepath.Join(dir, "all.ndjson"))
}

func TestConversationLoggerFlushesOnClose(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewConversationLogger(ConversationLogConfig{Enabled: true, Dir: dir, QueueSize: 64}, nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		logger.Log(ConversationLogEvent{UserID: "u", SessionID: "../escape", EventType: "question", ContentRaw: "q"})
	}
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())
	logger.Log(ConversationLogEvent{UserID: "u", SessionID: "late"})

	data, err := os.ReadFile(filepath.Join(dir, "u", "_escape.ndjson"))
	require.NoError(t, err)
	require.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 10)
	_, err = os.Stat(filepath.Join(dir, "u", "late.ndjson"))
	require.True(t, os.IsNotExist(err))
}

func TestDisabledConversationLoggerIsNoop(t *testing.T) {
	logger, err := NewConversationLogger(ConversationLogConfig{}, nil)
	require.NoError(t, err)
	require.IsType(t, noopConversationLogger{}, logger)
	logger.Log(ConversationLogEvent{})
	require.NoError(t, logger.Close())
}

func TestCleanForReadabilityStripsANSI(t *testing.T) {
	t.Parallel()

	clean := cleanForReadability("\x1b[31merror\x1b[0m plain\x07 ")
	require.Equal(t, "error plain", clean)
}

func waitForLogLine(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			return lines[len(lines)-1]
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for log file %s", path)
	return ""
}
