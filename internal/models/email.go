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

// Package models defines the data structures shared across the ingestion service.
package models

// Attachment is a single extracted email attachment ready for upload.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
	Extension   string `json:"extension"`
}

// ParsedEmail is a validated inbound email. Instances are only constructed
// by mailparse.ParseRawEmail, which guarantees a matching subject and at
// least one attachment.
type ParsedEmail struct {
	MessageID   string       `json:"message_id"`
	Subject     string       `json:"subject"`
	CompanyName string       `json:"company_name"`
	Sender      string       `json:"sender"`
	Attachments []Attachment `json:"attachments"`
}

// ProcessingResult aggregates the per-file outcome of one ingestion run.
type ProcessingResult struct {
	CollectionID     string   `json:"collection_id"`
	CollectionName   string   `json:"collection_name"`
	FilesUploaded    int      `json:"files_uploaded"`
	FilesFailed      []string `json:"files_failed"`
	DocumentsCreated int      `json:"documents_created"`
	DocumentsFailed  []string `json:"documents_failed"`
}
