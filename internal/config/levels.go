// Package config holds the small set of plain-string constants the
// logger compares severities against. It exists separately from cfg
// (which is the user-facing, viper-bound configuration surface) because
// the logger only ever needs to compare strings, not parse flags.
package config

// Log severities, ordered from most to least verbose.
const (
	TRACE   = "TRACE"
	DEBUG   = "DEBUG"
	INFO    = "INFO"
	WARNING = "WARNING"
	ERROR   = "ERROR"
	OFF     = "OFF"
)
