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

package cfg

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ant04x/wimlib/internal/config"
)

// ResolvedPath is a filesystem path that has already been through
// path expansion (e.g. "~" resolution); it exists as its own type so a
// mapstructure decode hook can be registered against it specifically.
type ResolvedPath string

// LogSeverity mirrors internal/config's plain string constants but is a
// distinct type so it round-trips through YAML/flags with validation.
type LogSeverity string

const (
	TraceLogSeverity   LogSeverity = config.TRACE
	DebugLogSeverity   LogSeverity = config.DEBUG
	InfoLogSeverity    LogSeverity = config.INFO
	WarningLogSeverity LogSeverity = config.WARNING
	ErrorLogSeverity   LogSeverity = config.ERROR
	OffLogSeverity     LogSeverity = config.OFF
)

var validSeverities = []string{
	config.TRACE, config.DEBUG, config.INFO, config.WARNING, config.ERROR, config.OFF,
}

func (s *LogSeverity) UnmarshalText(text []byte) error {
	v := strings.ToUpper(string(text))
	if !slices.Contains(validSeverities, v) {
		return fmt.Errorf("invalid log severity %q, must be one of %v", string(text), validSeverities)
	}
	*s = LogSeverity(v)
	return nil
}

func (s LogSeverity) MarshalText() ([]byte, error) {
	return []byte(string(s)), nil
}

// LogFormat is either "text" or "json".
type LogFormat string

const (
	TextLogFormat LogFormat = "text"
	JSONLogFormat LogFormat = "json"
)
