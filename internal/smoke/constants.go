package smoke

import "time"

// HTTP status code constants.
const (
	StatusOK = 200
)

// Runner configuration constants.
const (
	DefaultTimeout       = 10 * time.Second
	PercentageMultiplier = 100
)
