package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: everything else
// (providers, listen address, persona file) requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DetectorChanged is true when any voice-detection threshold changed.
	DetectorChanged bool
	NewDetector     DetectorTuning

	// PauseChanged is true when the pause shrink rule changed.
	PauseChanged bool
	NewPause     PauseTuning
}

// Empty reports whether nothing hot-reloadable changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.DetectorChanged && !d.PauseChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Pipeline.Detector != new.Pipeline.Detector {
		d.DetectorChanged = true
		d.NewDetector = new.Pipeline.Detector
	}

	if !pauseEqual(old.Pipeline.Pause, new.Pipeline.Pause) {
		d.PauseChanged = true
		d.NewPause = new.Pipeline.Pause
	}

	return d
}

// pauseEqual compares pause tunings, including the marker list.
func pauseEqual(a, b PauseTuning) bool {
	return a.ShortSegmentRunes == b.ShortSegmentRunes &&
		a.ShrinkFactor == b.ShrinkFactor &&
		a.MinPause == b.MinPause &&
		slices.Equal(a.Markers, b.Markers)
}
