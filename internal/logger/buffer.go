// internal/logger/buffer.go
package logger

import (
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// LogEntry represents a single log entry in the buffer
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Logger    string                 `json:"logger,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Buffer keeps the most recent log entries in memory so the control API can
// serve them. Older entries are dropped; the rotated file keeps history.
type Buffer struct {
	mu           sync.Mutex
	ring         []LogEntry
	currentIndex int
	wrapped      bool
	total        uint64
}

// NewBuffer creates a buffer holding up to size entries.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = 500
	}
	return &Buffer{ring: make([]LogEntry, size)}
}

// Add appends an entry, overwriting the oldest once full.
func (b *Buffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ring[b.currentIndex] = entry
	b.currentIndex = (b.currentIndex + 1) % len(b.ring)
	if b.currentIndex == 0 {
		b.wrapped = true
	}
	b.total++
}

// Recent returns up to limit entries, oldest first. limit <= 0 returns all.
func (b *Buffer) Recent(limit int) []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := b.currentIndex
	start := 0
	if b.wrapped {
		count = len(b.ring)
		start = b.currentIndex
	}
	if limit > 0 && limit < count {
		start += count - limit
		count = limit
	}

	logs := make([]LogEntry, 0, count)
	for i := 0; i < count; i++ {
		logs = append(logs, b.ring[(start+i)%len(b.ring)])
	}
	return logs
}

// Total is the number of entries ever added.
func (b *Buffer) Total() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Core returns a zap core feeding this buffer at level and above.
func (b *Buffer) Core(level zapcore.LevelEnabler) zapcore.Core {
	return &bufferCore{LevelEnabler: level, buf: b}
}

type bufferCore struct {
	zapcore.LevelEnabler
	buf    *Buffer
	fields []zapcore.Field
}

func (c *bufferCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &bufferCore{LevelEnabler: c.LevelEnabler, buf: c.buf, fields: merged}
}

func (c *bufferCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *bufferCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	var kv map[string]interface{}
	if len(enc.Fields) > 0 {
		kv = enc.Fields
	}
	c.buf.Add(LogEntry{
		Timestamp: entry.Time,
		Level:     entry.Level.CapitalString(),
		Logger:    entry.LoggerName,
		Message:   entry.Message,
		Fields:    kv,
	})
	return nil
}

func (c *bufferCore) Sync() error { return nil }
