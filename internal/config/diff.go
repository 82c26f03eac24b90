package config

// ConfigDiff describes what changed between two configs. Only fields that can be
// safely hot-reloaded are tracked; provider and storage changes require a
// restart and are deliberately absent.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CaptureChanged is true when any capture timing knob changed. New
	// sessions pick the values up; running sessions keep their old timings.
	CaptureChanged bool
	NewCapture     CaptureConfig
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Capture != new.Capture {
		d.CaptureChanged = true
		d.NewCapture = new.Capture
	}

	return d
}
