// Copyright (c) 2026 John Earle
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

// Package tenant resolves inbound recipients to tenant slugs and provides
// a Postgres-backed tenant directory with an in-process TTL cache over it.
package tenant

import (
	"regexp"
	"strings"
)

// recipientPattern matches invoices@<slug>.satvos.com addresses.
// Slugs are lowercase alphanumerics and hyphens.
var recipientPattern = regexp.MustCompile(`(?i)^invoices@([a-z0-9-]+)\.satvos\.com$`)

// ExtractSlug scans the recipient list in order and returns the slug of the
// first address matching invoices@<slug>.satvos.com, lowercased. Addresses
// are trimmed of surrounding whitespace before matching.
func ExtractSlug(recipients []string) (string, bool) {
	for _, addr := range recipients {
		if m := recipientPattern.FindStringSubmatch(strings.TrimSpace(addr)); m != nil {
			return strings.ToLower(m[1]), true
		}
	}
	return "", false
}
