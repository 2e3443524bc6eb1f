// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cfg is the viper/pflag-bound configuration surface for the
// wimcapture driver. The core packages (ntfs, capture, metadata) never
// import cfg themselves — they take plain Go values as parameters, so
// the tree builder can be driven by a hand-built Params value in tests
// just as easily as by a flag-bound Config in production. cfg only
// exists to get those values from flags/env/YAML into the driver in
// cmd/wimcapture.
package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the top-level configuration for the wimcapture driver.
type Config struct {
	Capture  CaptureConfig  `yaml:"capture"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metadata MetadataConfig `yaml:"metadata"`
}

// CaptureConfig controls the three per-dentry capture policies plus
// the volume to scan.
type CaptureConfig struct {
	// Device identifies the read-only NTFS volume to mount, e.g.
	// "\\.\C:" on Windows or a loopback-mounted image path in tests.
	Device string `yaml:"device"`

	// RPFix clears the reparse NOT_FIXED flag on symlinks, since a
	// full-volume capture makes reparse targets self-consistent.
	RPFix bool `yaml:"rpfix"`

	// NoACLs skips security descriptor collection entirely.
	NoACLs bool `yaml:"no-acls"`

	// StrictUnsupportedExclusion turns encrypted-file encounters into a
	// hard failure instead of a silently skipped dentry.
	StrictUnsupportedExclusion bool `yaml:"strict-unsupported-exclusion"`

	// MaxReadBytesPerSec throttles the driver's post-walk blob prefetch
	// pass (ntfs/schedule.Scheduler); zero or negative means unthrottled.
	MaxReadBytesPerSec int64 `yaml:"max-read-bytes-per-sec"`
}

// LoggingConfig configures internal/logger.
type LoggingConfig struct {
	Severity  LogSeverity    `yaml:"severity"`
	Format    LogFormat      `yaml:"format"`
	FilePath  ResolvedPath   `yaml:"file-path"`
	LogRotate LogRotateConfig `yaml:"log-rotate"`
}

// LogRotateConfig configures the lumberjack-backed rotating file sink.
type LogRotateConfig struct {
	MaxFileSizeMB   int  `yaml:"max-file-size-mb"`
	BackupFileCount int  `yaml:"backup-file-count"`
	Compress        bool `yaml:"compress"`
}

// DefaultLogRotateConfig returns sane defaults for rotated log files.
func DefaultLogRotateConfig() LogRotateConfig {
	return LogRotateConfig{
		MaxFileSizeMB:   512,
		BackupFileCount: 10,
		Compress:        false,
	}
}

// MetadataConfig controls the metadata resource reader.
type MetadataConfig struct {
	// DontCheckHash skips the SHA-1 verification in step 2 of the
	// reader, e.g. because the caller already validated the resource
	// via the external chunked-resource layer.
	DontCheckHash bool `yaml:"dont-check-hash"`
}

// BindFlags registers the driver's flags and binds them into viper:
// one pflag per knob, immediately bound by dotted key.
func BindFlags(flagSet *pflag.FlagSet) error {
	flagSet.StringP("device", "", "", "Read-only NTFS volume to capture.")
	if err := viper.BindPFlag("capture.device", flagSet.Lookup("device")); err != nil {
		return err
	}

	flagSet.BoolP("rpfix", "", true, "Clear the reparse NOT_FIXED flag on symlinks.")
	if err := viper.BindPFlag("capture.rpfix", flagSet.Lookup("rpfix")); err != nil {
		return err
	}

	flagSet.BoolP("no-acls", "", false, "Skip security descriptor collection.")
	if err := viper.BindPFlag("capture.no-acls", flagSet.Lookup("no-acls")); err != nil {
		return err
	}

	flagSet.BoolP("strict-unsupported-exclusion", "", false, "Fail capture on encrypted files instead of skipping them.")
	if err := viper.BindPFlag("capture.strict-unsupported-exclusion", flagSet.Lookup("strict-unsupported-exclusion")); err != nil {
		return err
	}

	flagSet.Int64P("max-read-bytes-per-sec", "", 0, "Throttle the post-walk blob prefetch pass to this many bytes/sec (0 = unthrottled).")
	if err := viper.BindPFlag("capture.max-read-bytes-per-sec", flagSet.Lookup("max-read-bytes-per-sec")); err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", string(InfoLogSeverity), "Log severity: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")
	if err := viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", string(JSONLogFormat), "Log format: text or json.")
	if err := viper.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "Path to a log file; stderr if empty.")
	if err := viper.BindPFlag("logging.file-path", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	flagSet.BoolP("dont-check-metadata-hash", "", false, "Skip the SHA-1 check when reading a metadata resource.")
	if err := viper.BindPFlag("metadata.dont-check-hash", flagSet.Lookup("dont-check-metadata-hash")); err != nil {
		return err
	}

	return nil
}
