package models

import "time"

// WindowDateLayout formats the UTC calendar day that keys a rate-limit window.
const WindowDateLayout = "2006-01-02"

// RateLimitWindow is one client's admission counter for one UTC day.
// RequestCount only ever grows within a window; old windows are purged by
// the retention sweeper.
type RateLimitWindow struct {
	ClientID      string
	WindowDate    string
	RequestCount  int64
	LastRequestAt time.Time
}
