package logger

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// flatten renders an entry's message followed by its fields in key order.
func flatten(entry *logrus.Entry) string {
	if len(entry.Data) == 0 {
		return entry.Message
	}
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(entry.Message)
	b.WriteString(" ")
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%q", k, fmt.Sprint(entry.Data[k]))
	}
	return b.String()
}

// Entry is a buffered log line.
type Entry struct {
	ID      int          `json:"id"`
	Message string       `json:"message"`
	Time    time.Time    `json:"time"`
	Level   logrus.Level `json:"level"`
}

// LogBuffer is a fixed-capacity ring of the newest log entries.
type LogBuffer struct {
	mu      sync.RWMutex
	ring    []*Entry
	written int
}

// NewLogBuffer creates a new LogBuffer.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &LogBuffer{ring: make([]*Entry, capacity)}
}

func (lb *LogBuffer) write(entry *Entry) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	entry.ID = lb.written
	lb.ring[lb.written%len(lb.ring)] = entry
	lb.written++
}

// Tail returns up to limit of the newest entries, oldest first. A negative limit returns
// everything still held.
func (lb *LogBuffer) Tail(limit int) []*Entry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	held := lb.written
	if held > len(lb.ring) {
		held = len(lb.ring)
	}
	if limit < 0 || limit > held {
		limit = held
	}
	entries := make([]*Entry, 0, limit)
	for id := lb.written - limit; id < lb.written; id++ {
		entries = append(entries, lb.ring[id%len(lb.ring)])
	}
	return entries
}

// Len returns the total number of entries written to the buffer.
func (lb *LogBuffer) Len() int {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return lb.written
}

// Fire implements the logrus.Hook interface.
func (lb *LogBuffer) Fire(entry *logrus.Entry) error {
	lb.write(&Entry{Message: flatten(entry), Time: entry.Time, Level: entry.Level})
	return nil
}

// Levels implements the logrus.Hook interface.
func (lb *LogBuffer) Levels() []logrus.Level {
	return logrus.AllLevels
}
