package domain

import "time"

// Policy is the organization-wide two-factor configuration. A single
// admin-managed record; callers receive a snapshot, never a live handle.
type Policy struct {
	RequireForAdmins   bool
	RequireForAllUsers bool
	RememberDeviceDays int
	UpdatedAt          time.Time
}

// RememberDeviceTTL converts the configured day count to a duration.
func (p Policy) RememberDeviceTTL() time.Duration {
	return time.Duration(p.RememberDeviceDays) * 24 * time.Hour
}
