package workers

import "listing_canon/models"

// LogFunc writes a line to the run log.
type LogFunc func(level models.LogLevel, sourceID, message string)

// NoOpLogger does nothing (default)
var NoOpLogger LogFunc = func(level models.LogLevel, sourceID, message string) {}
