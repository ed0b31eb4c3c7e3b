package smoke

import "time"

// Config holds configuration for the smoke run.
type Config struct {
	BaseURL  string        // Base URL of the service
	Sessions int           // Number of concurrent map sessions
	Timeout  time.Duration // Per-step timeout
	LogFile  string        // Log file for run output
	Verbose  bool          // Enable verbose logging
}

// Stats holds run statistics.
type Stats struct {
	Years             int
	Stories           int
	SessionsOpened    int64
	SessionsSucceeded int64
	SessionsFailed    int64
	FiltersVerified   int64
	StartTime         time.Time
	EndTime           time.Time
	Duration          time.Duration
}
