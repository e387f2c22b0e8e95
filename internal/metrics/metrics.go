package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
)

const (
	HTTPRequests          = "http_requests_total"
	HTTPErrors            = "http_errors_total"
	LifecycleEvents       = "lifecycle_events_total"
	NotificationsQueued   = "notifications_queued_total"
	NotificationsSent     = "notifications_sent_total"
	NotificationsFailed   = "notifications_failed_total"
	NotificationsDead     = "notifications_dead_lettered_total"
	SideEffectWarnings    = "side_effect_warnings_total"
	RateLimitedOperations = "rate_limited_total"
)

var help = map[string]string{
	HTTPRequests:          "Total number of HTTP requests.",
	HTTPErrors:            "Total number of 5xx HTTP responses.",
	LifecycleEvents:       "Lifecycle events committed.",
	NotificationsQueued:   "Notifications handed to the queue.",
	NotificationsSent:     "Notifications accepted by the gateway.",
	NotificationsFailed:   "Notification delivery attempts that failed.",
	NotificationsDead:     "Notifications moved to the dead-letter list.",
	SideEffectWarnings:    "Best-effort side effects that failed after commit.",
	RateLimitedOperations: "Operations rejected by a rate limiter.",
}

// Collector is a set of monotonically increasing counters exposed in the
// Prometheus text format.
type Collector struct {
	namespace string
	mu        sync.RWMutex
	counters  map[string]*uint64
}

func NewCollector(namespace string) *Collector {
	return &Collector{namespace: namespace, counters: make(map[string]*uint64)}
}

func (c *Collector) Inc(name string) {
	c.Add(name, 1)
}

func (c *Collector) Add(name string, delta uint64) {
	if c == nil {
		return
	}
	c.mu.RLock()
	value, ok := c.counters[name]
	c.mu.RUnlock()
	if !ok {
		c.mu.Lock()
		if value, ok = c.counters[name]; !ok {
			value = new(uint64)
			c.counters[name] = value
		}
		c.mu.Unlock()
	}
	atomic.AddUint64(value, delta)
}

func (c *Collector) Value(name string) uint64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if value, ok := c.counters[name]; ok {
		return atomic.LoadUint64(value)
	}
	return 0
}

func (c *Collector) Snapshot() map[string]uint64 {
	out := map[string]uint64{}
	if c == nil {
		return out
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for name, value := range c.counters {
		out[name] = atomic.LoadUint64(value)
	}
	return out
}

type Handler struct {
	collector *Collector
}

func NewHandler(collector *Collector) *Handler {
	return &Handler{collector: collector}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	snapshot := h.collector.Snapshot()
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)
	prefix := ""
	if h.collector != nil && h.collector.namespace != "" {
		prefix = h.collector.namespace + "_"
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	for _, name := range names {
		if text, ok := help[name]; ok {
			_, _ = fmt.Fprintf(w, "# HELP %s%s %s\n", prefix, name, text)
		}
		_, _ = fmt.Fprintf(w, "# TYPE %s%s counter\n", prefix, name)
		_, _ = fmt.Fprintf(w, "%s%s %d\n", prefix, name, snapshot[name])
	}
}
