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

package ingest

import (
	"fmt"

	"github.com/satvos/ingestion/internal/models"
)

// Status classifies the result of one ingestion run.
type Status int

const (
	// StatusProcessed means attachments were handed to the backend.
	StatusProcessed Status = iota
	// StatusIgnored means the email was filtered by routing or content
	// rules (unknown tenant, disabled tenant, subject mismatch, ...).
	StatusIgnored
	// StatusRejected means a spam or virus verdict failed.
	StatusRejected
	// StatusFailed means a genuine error stopped the run. It is still
	// reported upstream as a non-error so the transport never retries.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusProcessed:
		return "processed"
	case StatusIgnored:
		return "ignored"
	case StatusRejected:
		return "rejected"
	default:
		return "failed"
	}
}

// Outcome is the final result of one ingestion run. Every run produces an
// Outcome; no error ever escapes to the caller.
type Outcome struct {
	Status Status
	Reason string
	Result *models.ProcessingResult
}

// Ignored builds a filtering outcome.
func Ignored(reason string) Outcome {
	return Outcome{Status: StatusIgnored, Reason: reason}
}

// Rejected builds a verdict-rejection outcome.
func Rejected(reason string) Outcome {
	return Outcome{Status: StatusRejected, Reason: reason}
}

// Failed builds an error outcome.
func Failed(reason string) Outcome {
	return Outcome{Status: StatusFailed, Reason: reason}
}

// Processed builds a success outcome carrying the aggregated result.
func Processed(result *models.ProcessingResult) Outcome {
	return Outcome{Status: StatusProcessed, Result: result}
}

// Summary renders the human-readable line reported upstream.
func (o Outcome) Summary() string {
	switch o.Status {
	case StatusProcessed:
		r := o.Result
		return fmt.Sprintf(
			"Processed: collection=%s, files_uploaded=%d, files_failed=%d, documents_created=%d, documents_failed=%d",
			r.CollectionName, r.FilesUploaded, len(r.FilesFailed), r.DocumentsCreated, len(r.DocumentsFailed),
		)
	case StatusIgnored:
		return "Ignored: " + o.Reason
	case StatusRejected:
		return "Rejected: " + o.Reason
	default:
		return "Failed: " + o.Reason
	}
}
