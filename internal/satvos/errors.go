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

package satvos

import "fmt"

// APIError is a non-success response from the SATVOS backend. It aborts
// the ingestion unless it is a per-file item inside a batch result.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("satvos %s: HTTP %d: %s", e.Op, e.Status, e.Body)
}

// AuthError is a login or token refresh failure.
type AuthError struct {
	Reason string
	Status int
	Body   string
}

func (e *AuthError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("satvos auth: %s", e.Reason)
	}
	return fmt.Sprintf("satvos auth: %s: HTTP %d: %s", e.Reason, e.Status, e.Body)
}
