// Package clock centralizes time access so wall-clock values are stamped
// in the configured timezone. The message store uses it for
// edit_history.edited_at.
package clock

import (
	"time"

	"chatarchiver/internal/infra/config"
)

// Now returns the current time converted to the application's configured
// timezone (config.AppLocation).
func Now() time.Time {
	return time.Now().In(config.AppLocation)
}

// ToAppTime converts an arbitrary time into the application's timezone.
// Useful for normalizing timestamps coming from the gateway.
func ToAppTime(t time.Time) time.Time {
	return t.In(config.AppLocation)
}
