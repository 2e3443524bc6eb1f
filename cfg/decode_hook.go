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
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// decodeResolvedPathHook expands a leading "~" the way a shell would,
// so that "~/wim.log" in a flag or YAML value resolves to the user's
// home directory once, at decode time, rather than at every use site.
func decodeResolvedPathHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(ResolvedPath("")) {
		return data, nil
	}

	s, ok := data.(string)
	if !ok {
		return data, nil
	}

	if strings.HasPrefix(s, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return data, nil
		}
		s = filepath.Join(home, strings.TrimPrefix(s, "~"))
	}

	return ResolvedPath(s), nil
}

// Load reads the bound flags/env/YAML into a Config using a
// viper.Unmarshal + mapstructure text-unmarshaler composite hook.
func Load() (*Config, error) {
	var c Config

	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
		decodeResolvedPathHook,
	)

	if err := viper.Unmarshal(&c, viper.DecodeHook(decodeHook)); err != nil {
		return nil, err
	}

	return &c, nil
}
