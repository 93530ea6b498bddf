package memory

import (
	"sync"

	escalation "safeflame/internal/escalation/domain"
)

// DefaultAlertLogCapacity is the number of alerts kept for dashboard replay.
const DefaultAlertLogCapacity = 100

// AlertLog is a bounded in-memory ring of recent alerts. Oldest entries are evicted first.
type AlertLog struct {
	mu    sync.RWMutex
	items []escalation.Alert
	next  int
	size  int
}

// NewAlertLog constructs a log holding at most capacity alerts.
func NewAlertLog(capacity int) *AlertLog {
	if capacity <= 0 {
		capacity = DefaultAlertLogCapacity
	}
	return &AlertLog{items: make([]escalation.Alert, capacity)}
}

// Record appends an alert.
func (l *AlertLog) Record(alert escalation.Alert) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.items[l.next] = alert
	l.next = (l.next + 1) % len(l.items)
	if l.size < len(l.items) {
		l.size++
	}
	l.mu.Unlock()
}

// Recent returns up to n alerts, newest first. n <= 0 returns everything kept.
func (l *AlertLog) Recent(n int) []escalation.Alert {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > l.size {
		n = l.size
	}
	out := make([]escalation.Alert, 0, n)
	idx := l.next
	for i := 0; i < n; i++ {
		idx = (idx - 1 + len(l.items)) % len(l.items)
		out = append(out, l.items[idx])
	}
	return out
}

// Len returns how many alerts are kept.
func (l *AlertLog) Len() int {
	if l == nil {
		return 0
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Capacity returns the maximum number of kept alerts.
func (l *AlertLog) Capacity() int {
	if l == nil {
		return 0
	}
	return len(l.items)
}
