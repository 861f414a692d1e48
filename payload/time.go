package payload

import (
	"time"
)

// CombinedTime pairs wall clock time with time since boot, so the backend can order events
// across wall clock changes within one boot
type CombinedTime struct {
	Timestamp time.Time `json:"timestamp"`
	UptimeMs  int64     `json:"uptime_ms"`
	BootID    string    `json:"boot_id,omitempty"`
}

// Uptime returns the time since boot as a duration
func (c CombinedTime) Uptime() time.Duration {
	return time.Duration(c.UptimeMs) * time.Millisecond
}

// TimezoneWithID is the zone the device was configured with when the artifact was collected
type TimezoneWithID struct {
	ID string `json:"id"`
}

// DeviceTimezone returns the zone of the local clock
func DeviceTimezone() TimezoneWithID {
	return TimezoneWithID{ID: time.Local.String()}
}

// TimeProvider supplies collection time snapshots
type TimeProvider interface {
	Now() CombinedTime
}

// TimeProviderFunc adapts a function into a TimeProvider
type TimeProviderFunc func() CombinedTime

func (f TimeProviderFunc) Now() CombinedTime {
	return f()
}

// SystemTimeProvider reads the wall clock and the kernel's boot clock
type SystemTimeProvider struct{}

func (SystemTimeProvider) Now() CombinedTime {
	return CombinedTime{
		Timestamp: time.Now(),
		UptimeMs:  uptime().Milliseconds(),
		BootID:    bootID(),
	}
}
