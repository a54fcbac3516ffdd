package plugin

import (
	"fmt"
	"strings"
	"sync"
)

// Level is the severity of a Message.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Message is one line reported to the operator driving a lifecycle operation.
type Message struct {
	Level Level
	Text  string
}

// Messages collects operator-facing output of lifecycle operations. A nil
// *Messages discards everything.
type Messages struct {
	mu    sync.Mutex
	items []Message
}

// NewMessages returns an empty sink.
func NewMessages() *Messages {
	return &Messages{}
}

func (m *Messages) add(level Level, format string, args ...interface{}) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, Message{Level: level, Text: fmt.Sprintf(format, args...)})
}

func (m *Messages) Infof(format string, args ...interface{}) {
	m.add(LevelInfo, format, args...)
}

func (m *Messages) Warnf(format string, args ...interface{}) {
	m.add(LevelWarn, format, args...)
}

func (m *Messages) Errorf(format string, args ...interface{}) {
	m.add(LevelError, format, args...)
}

// All returns a copy of every message in order.
func (m *Messages) All() []Message {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.items))
	copy(out, m.items)
	return out
}

// HasErrors reports whether any error-level message was recorded.
func (m *Messages) HasErrors() bool {
	for _, msg := range m.All() {
		if msg.Level == LevelError {
			return true
		}
	}
	return false
}

func (m *Messages) String() string {
	var b strings.Builder
	for _, msg := range m.All() {
		fmt.Fprintf(&b, "[%s] %s\n", msg.Level, msg.Text)
	}
	return b.String()
}
