package telemetry

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Logger exposes the logging capabilities required by server components.
type Logger interface {
	Printf(format string, args ...any)
}

// LoggerFunc adapts functions into the Logger interface.
type LoggerFunc func(format string, args ...any)

// Printf implements Logger for LoggerFunc.
func (f LoggerFunc) Printf(format string, args ...any) {
	if f == nil {
		return
	}
	f(format, args...)
}

// WrapLogger adapts a logrus logger or entry to the Logger interface.
func WrapLogger(logger logrus.FieldLogger) Logger {
	return &loggerAdapter{logger: logger}
}

type loggerAdapter struct {
	logger logrus.FieldLogger
}

func (l *loggerAdapter) Printf(format string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Infof(format, args...)
}

// Metrics exposes the telemetry methods required by server components.
type Metrics interface {
	Add(key string, delta uint64)
	Store(key string, value uint64)
}

// Counters is a concurrency-safe Metrics implementation backing the
// diagnostics endpoint.
type Counters struct {
	mu     sync.RWMutex
	values map[string]*atomic.Uint64
}

// NewCounters returns an empty counter set.
func NewCounters() *Counters {
	return &Counters{values: make(map[string]*atomic.Uint64)}
}

func (c *Counters) counter(key string) *atomic.Uint64 {
	c.mu.RLock()
	value, ok := c.values[key]
	c.mu.RUnlock()
	if ok {
		return value
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[string]*atomic.Uint64)
	}
	if value, ok = c.values[key]; !ok {
		value = new(atomic.Uint64)
		c.values[key] = value
	}
	return value
}

// Add increments key by delta.
func (c *Counters) Add(key string, delta uint64) {
	if c == nil {
		return
	}
	c.counter(key).Add(delta)
}

// Store overwrites key with value.
func (c *Counters) Store(key string, value uint64) {
	if c == nil {
		return
	}
	c.counter(key).Store(value)
}

// Load reads key, returning zero for unknown keys.
func (c *Counters) Load(key string) uint64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if value, ok := c.values[key]; ok {
		return value.Load()
	}
	return 0
}

// Snapshot copies every counter.
func (c *Counters) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if c == nil {
		return out
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for key, value := range c.values {
		out[key] = value.Load()
	}
	return out
}

// Keys lists the counter names in order.
func (c *Counters) Keys() []string {
	snapshot := c.Snapshot()
	keys := make([]string, 0, len(snapshot))
	for key := range snapshot {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
