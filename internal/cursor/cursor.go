/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cursor

import (
	"context"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Store is a durable key to position store. Each pipeline stage (and each worker, for
// notifications) owns one key.
type Store interface {
	// Read returns the stored position for key. A missing key, or a stored value that is not a
	// non-negative integer, yields def. Only backend failures are returned as errors.
	Read(ctx context.Context, key string, def int64) (int64, error)

	// Write persists value for key before returning, so the next Read sees it even after a
	// process restart.
	Write(ctx context.Context, key string, value int64) error
}

// SanitizeKey keeps ASCII letters, digits, '-' and '_' and trims surrounding underscores.
// It makes worker names safe to use as file names and redis keys.
func SanitizeKey(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "_")
}

// parseValue accepts only plain non-negative integers, matching what Write produces.
func parseValue(key, raw string, def int64) int64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			logrus.WithFields(logrus.Fields{"key": key, "value": raw}).Warn("malformed cursor value, using default")
			return def
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		logrus.WithFields(logrus.Fields{"key": key, "value": raw}).Warn("cursor value out of range, using default")
		return def
	}
	return v
}
