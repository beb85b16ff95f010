package conversation

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// ConversationLogger records chat traffic for later review.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

// ConversationLogConfig configures the NDJSON conversation log.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// ConversationLogEvent is one line of a conversation log file.
type ConversationLogEvent struct {
	Timestamp  time.Time `json:"ts"`
	UserID     string    `json:"user_id"`
	SessionID  string    `json:"session_id"`
	Channel    string    `json:"channel"`
	Direction  string    `json:"direction"`
	EventType  string    `json:"event_type"`
	State      string    `json:"state,omitempty"`
	ContentRaw string    `json:"content_raw,omitempty"`
	Content    string    `json:"content,omitempty"`
	Error      string    `json:"error,omitempty"`
}

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Close() error            { return nil }

// NopLogger returns a logger that discards every event.
func NopLogger() ConversationLogger { return noopConversationLogger{} }

type fileConversationLogger struct {
	dir    string
	global *os.File
	queue  chan ConversationLogEvent
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	logger *slog.Logger
}

// NewConversationLogger starts the background writer. A disabled config yields a no-op logger.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled {
		return noopConversationLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		cfg.Dir = "./data/conversations"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}

	l := &fileConversationLogger{
		dir:    cfg.Dir,
		queue:  make(chan ConversationLogEvent, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}

	if cfg.GlobalEnabled {
		path := cfg.GlobalPath
		if path == "" {
			path = filepath.Join(cfg.Dir, "all.ndjson")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open global conversation log: %w", err)
		}
		l.global = f
	}

	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Log queues an event without blocking. When the queue is full the oldest event is dropped.
func (l *fileConversationLogger) Log(event ConversationLogEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Content == "" && event.ContentRaw != "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	select {
	case <-l.done:
		return
	default:
	}

	select {
	case l.queue <- event:
		return
	default:
	}

	l.logger.Warn("Conversation log queue full, dropping oldest event",
		"session_id", event.SessionID,
		"queue_len", len(l.queue),
	)
	select {
	case <-l.queue:
	default:
	}
	select {
	case l.queue <- event:
	default:
		l.logger.Warn("Failed to queue conversation log event", "session_id", event.SessionID)
	}
}

func (l *fileConversationLogger) run() {
	defer l.wg.Done()
	for {
		select {
		case ev := <-l.queue:
			l.write(ev)
		case <-l.done:
			for {
				select {
				case ev := <-l.queue:
					l.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (l *fileConversationLogger) write(ev ConversationLogEvent) {
	line, err := json.Marshal(ev)
	if err != nil {
		l.logger.Warn("Failed to encode conversation log event", "error", err)
		return
	}
	line = append(line, '\n')

	dir := filepath.Join(l.dir, safeName(ev.UserID))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		l.logger.Warn("Failed to create conversation log dir", "dir", dir, "error", err)
		return
	}
	path := filepath.Join(dir, safeName(ev.SessionID)+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		l.logger.Warn("Failed to open conversation log", "path", path, "error", err)
		return
	}
	if _, err := f.Write(line); err != nil {
		l.logger.Warn("Failed to write conversation log", "path", path, "error", err)
	}
	_ = f.Close()

	if l.global != nil {
		if _, err := l.global.Write(line); err != nil {
			l.logger.Warn("Failed to write global conversation log", "error", err)
		}
	}
}

// Close flushes queued events and stops the writer. Later events are ignored.
func (l *fileConversationLogger) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		l.wg.Wait()
		if l.global != nil {
			err = l.global.Close()
		}
	})
	return err
}

var (
	ansiPattern     = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// cleanForReadability strips terminal escapes and control characters and collapses blank runs.
func cleanForReadability(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

func safeName(s string) string {
	s = unsafeNameChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, ".")
	if s == "" {
		return "unknown"
	}
	return s
}
