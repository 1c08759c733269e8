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

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/satvos/ingestion/internal/models"
)

// fakeBackend is a minimal SATVOS API for tests. It records call counts
// and the bearer tokens it sees.
type fakeBackend struct {
	mu sync.Mutex

	loginCalls   int
	refreshCalls int
	loginStatus  int
	tokenTTL     time.Duration

	collectionStatus int
	collectionAuth   []string // Authorization header per /collections call

	uploadStatus  int
	uploadResults []FileResult
	uploadedNames []string
	uploadAuth    []string

	documentStatus int
	documentBodies []map[string]string
	failDocFileIDs map[string]bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		loginStatus:      http.StatusOK,
		tokenTTL:         time.Hour,
		collectionStatus: http.StatusCreated,
		uploadStatus:     http.StatusOK,
		documentStatus:   http.StatusCreated,
		failDocFileIDs:   map[string]bool{},
	}
}

func (f *fakeBackend) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()

	writeToken := func(w http.ResponseWriter, access string, ttl time.Duration) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"data":{"access_token":%q,"refresh_token":"refresh-1","expires_at":%q}}`,
			access, time.Now().UTC().Add(ttl).Format(time.RFC3339))
	}

	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.loginCalls++
		status := f.loginStatus
		ttl := f.tokenTTL
		f.mu.Unlock()

		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["tenant_slug"] == "" {
			t.Errorf("login request missing tenant_slug")
		}

		if status != http.StatusOK {
			w.WriteHeader(status)
			io.WriteString(w, `{"error":"invalid credentials"}`)
			return
		}
		writeToken(w, "access-1", ttl)
	})

	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.refreshCalls++
		f.mu.Unlock()

		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["refresh_token"] != "refresh-1" {
			t.Errorf("refresh_token = %q, want %q", body["refresh_token"], "refresh-1")
		}
		writeToken(w, "access-2", time.Hour)
	})

	mux.HandleFunc("/collections", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.collectionAuth = append(f.collectionAuth, r.Header.Get("Authorization"))
		status := f.collectionStatus
		f.mu.Unlock()

		if status != http.StatusOK && status != http.StatusCreated {
			w.WriteHeader(status)
			io.WriteString(w, `{"error":"boom"}`)
			return
		}
		w.WriteHeader(status)
		io.WriteString(w, `{"data":{"id":"col-1"}}`)
	})

	mux.HandleFunc("/collections/col-1/files", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		f.uploadAuth = append(f.uploadAuth, r.Header.Get("Authorization"))
		for _, fh := range r.MultipartForm.File["files"] {
			f.uploadedNames = append(f.uploadedNames, fh.Filename)
		}
		status := f.uploadStatus
		results := f.uploadResults
		f.mu.Unlock()

		if status != http.StatusOK && status != http.StatusCreated && status != http.StatusMultiStatus {
			w.WriteHeader(status)
			io.WriteString(w, `{"error":"upload rejected"}`)
			return
		}

		if results == nil {
			for _, fh := range r.MultipartForm.File["files"] {
				results = append(results, FileResult{
					Success: true,
					File:    FileInfo{ID: "file-" + fh.Filename, OriginalName: fh.Filename},
				})
			}
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(uploadResponse{Data: results})
	})

	mux.HandleFunc("/documents", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		f.documentBodies = append(f.documentBodies, body)
		status := f.documentStatus
		fail := f.failDocFileIDs[body["file_id"]]
		f.mu.Unlock()

		if fail || (status != http.StatusOK && status != http.StatusCreated) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			io.WriteString(w, `{"error":"unparseable"}`)
			return
		}
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"data":{"id":"doc-%s"}}`, body["file_id"])
	})

	return mux
}

func newTestClient(t *testing.T, f *fakeBackend) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return NewClient(srv.Client(), srv.URL, "acme"), srv
}

func testAttachments() []models.Attachment {
	return []models.Attachment{
		{Filename: "invoice.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4 one"), Extension: "pdf"},
		{Filename: "scan.jpg", ContentType: "image/jpeg", Data: []byte{0xFF, 0xD8, 0xFF}, Extension: "jpg"},
	}
}

func TestAuthenticate_Failure(t *testing.T) {
	f := newFakeBackend()
	f.loginStatus = http.StatusUnauthorized
	client, _ := newTestClient(t, f)

	err := client.Authenticate(context.Background(), "svc@acme.com", "wrong")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want *AuthError", err)
	}
	if authErr.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", authErr.Status)
	}
	if authErr.Body == "" {
		t.Errorf("AuthError should carry the raw response body")
	}
}

func TestEnsureAuthenticated_RequiresLogin(t *testing.T) {
	f := newFakeBackend()
	client, _ := newTestClient(t, f)

	_, err := client.CreateCollection(context.Background(), "name", "desc")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want *AuthError for unauthenticated client", err)
	}
	if f.loginCalls != 0 || f.refreshCalls != 0 {
		t.Errorf("no network auth calls expected, got login=%d refresh=%d", f.loginCalls, f.refreshCalls)
	}
}

func TestCreateCollection_UsesBearerToken(t *testing.T) {
	f := newFakeBackend()
	client, _ := newTestClient(t, f)

	if err := client.Authenticate(context.Background(), "svc@acme.com", "secret"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	id, err := client.CreateCollection(context.Background(), "Acme Corp - 2026-08-01 12:00", "desc")
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	if id != "col-1" {
		t.Errorf("id = %q, want %q", id, "col-1")
	}
	if len(f.collectionAuth) != 1 || f.collectionAuth[0] != "Bearer access-1" {
		t.Errorf("Authorization = %v, want [Bearer access-1]", f.collectionAuth)
	}
	if f.refreshCalls != 0 {
		t.Errorf("refreshCalls = %d, want 0 for a fresh token", f.refreshCalls)
	}
}

// TestTokenRefresh verifies that a token close to expiry triggers exactly
// one refresh before the operation proceeds, and that the new access token
// is used for that operation.
func TestTokenRefresh(t *testing.T) {
	f := newFakeBackend()
	f.tokenTTL = 5 * time.Second // within the 60s refresh buffer immediately
	client, _ := newTestClient(t, f)

	if err := client.Authenticate(context.Background(), "svc@acme.com", "secret"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	if _, err := client.CreateCollection(context.Background(), "name", "desc"); err != nil {
		t.Fatalf("create collection: %v", err)
	}

	if f.refreshCalls != 1 {
		t.Fatalf("refreshCalls = %d, want exactly 1", f.refreshCalls)
	}
	if len(f.collectionAuth) != 1 || f.collectionAuth[0] != "Bearer access-2" {
		t.Errorf("Authorization = %v, want the refreshed [Bearer access-2]", f.collectionAuth)
	}

	// The refreshed token is long-lived: no further refresh calls.
	if _, err := client.CreateCollection(context.Background(), "name2", "desc"); err != nil {
		t.Fatalf("second create collection: %v", err)
	}
	if f.refreshCalls != 1 {
		t.Errorf("refreshCalls = %d after second call, want still 1", f.refreshCalls)
	}
}

func TestBatchUploadFiles_RejectedStatus(t *testing.T) {
	f := newFakeBackend()
	f.uploadStatus = http.StatusInternalServerError
	client, _ := newTestClient(t, f)

	if err := client.Authenticate(context.Background(), "svc@acme.com", "secret"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	_, err := client.BatchUploadFiles(context.Background(), "col-1", testAttachments())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", apiErr.Status)
	}
}

func TestBatchUploadFiles_PartialResultReturnedVerbatim(t *testing.T) {
	f := newFakeBackend()
	f.uploadStatus = http.StatusMultiStatus
	f.uploadResults = []FileResult{
		{Success: true, File: FileInfo{ID: "file-1", OriginalName: "invoice.pdf"}},
		{Success: false, File: FileInfo{OriginalName: "scan.jpg"}, Error: "virus scan failed"},
	}
	client, _ := newTestClient(t, f)

	if err := client.Authenticate(context.Background(), "svc@acme.com", "secret"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	results, err := client.BatchUploadFiles(context.Background(), "col-1", testAttachments())
	if err != nil {
		t.Fatalf("batch upload: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if !results[0].Success || results[0].File.ID != "file-1" {
		t.Errorf("unexpected first result: %+v", results[0])
	}
	if results[1].Success || results[1].Error != "virus scan failed" {
		t.Errorf("unexpected second result: %+v", results[1])
	}
	if len(f.uploadedNames) != 2 || f.uploadedNames[0] != "invoice.pdf" || f.uploadedNames[1] != "scan.jpg" {
		t.Errorf("uploaded filenames = %v", f.uploadedNames)
	}
}

func TestProcessAttachments_FullSuccess(t *testing.T) {
	f := newFakeBackend()
	client, _ := newTestClient(t, f)
	client.now = func() time.Time {
		return time.Date(2026, 8, 1, 12, 34, 56, 0, time.UTC)
	}

	if err := client.Authenticate(context.Background(), "svc@acme.com", "secret"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	result, err := client.ProcessAttachments(context.Background(), "Acme Corp", testAttachments(), "sender@example.com")
	if err != nil {
		t.Fatalf("process attachments: %v", err)
	}

	if result.CollectionName != "Acme Corp - 2026-08-01 12:34" {
		t.Errorf("CollectionName = %q", result.CollectionName)
	}
	if result.CollectionID != "col-1" {
		t.Errorf("CollectionID = %q, want col-1", result.CollectionID)
	}
	if result.FilesUploaded != 2 || len(result.FilesFailed) != 0 {
		t.Errorf("files uploaded=%d failed=%v", result.FilesUploaded, result.FilesFailed)
	}
	if result.DocumentsCreated != 2 || len(result.DocumentsFailed) != 0 {
		t.Errorf("documents created=%d failed=%v", result.DocumentsCreated, result.DocumentsFailed)
	}

	if len(f.documentBodies) != 2 {
		t.Fatalf("document calls = %d, want 2", len(f.documentBodies))
	}
	body := f.documentBodies[0]
	if body["document_type"] != "invoice" || body["parse_mode"] != "single" || body["collection_id"] != "col-1" {
		t.Errorf("unexpected document body: %v", body)
	}
}

// TestProcessAttachments_PartialUpload verifies that a 207 with one failed
// file records the failure and creates documents only for uploaded files.
func TestProcessAttachments_PartialUpload(t *testing.T) {
	f := newFakeBackend()
	f.uploadStatus = http.StatusMultiStatus
	f.uploadResults = []FileResult{
		{Success: true, File: FileInfo{ID: "file-1", OriginalName: "invoice.pdf"}},
		{Success: false, File: FileInfo{OriginalName: "scan.jpg"}, Error: "too large"},
	}
	client, _ := newTestClient(t, f)

	if err := client.Authenticate(context.Background(), "svc@acme.com", "secret"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	result, err := client.ProcessAttachments(context.Background(), "Acme Corp", testAttachments(), "")
	if err != nil {
		t.Fatalf("process attachments: %v", err)
	}

	if result.FilesUploaded != 1 {
		t.Errorf("FilesUploaded = %d, want 1", result.FilesUploaded)
	}
	if len(result.FilesFailed) != 1 || result.FilesFailed[0] != "scan.jpg: too large" {
		t.Errorf("FilesFailed = %v", result.FilesFailed)
	}
	if len(f.documentBodies) != 1 || f.documentBodies[0]["file_id"] != "file-1" {
		t.Errorf("document creation attempted for wrong files: %v", f.documentBodies)
	}
	if result.DocumentsCreated != 1 {
		t.Errorf("DocumentsCreated = %d, want 1", result.DocumentsCreated)
	}
}

// TestProcessAttachments_DocumentFailureIsolated verifies a per-file
// document-creation failure never aborts the remaining files.
func TestProcessAttachments_DocumentFailureIsolated(t *testing.T) {
	f := newFakeBackend()
	f.failDocFileIDs["file-invoice.pdf"] = true
	client, _ := newTestClient(t, f)

	if err := client.Authenticate(context.Background(), "svc@acme.com", "secret"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	result, err := client.ProcessAttachments(context.Background(), "Acme Corp", testAttachments(), "")
	if err != nil {
		t.Fatalf("process attachments: %v", err)
	}

	if result.FilesUploaded != 2 {
		t.Errorf("FilesUploaded = %d, want 2", result.FilesUploaded)
	}
	if result.DocumentsCreated != 1 {
		t.Errorf("DocumentsCreated = %d, want 1", result.DocumentsCreated)
	}
	if len(result.DocumentsFailed) != 1 {
		t.Fatalf("DocumentsFailed = %v, want one entry", result.DocumentsFailed)
	}
}

func TestProcessAttachments_CollectionFailureAborts(t *testing.T) {
	f := newFakeBackend()
	f.collectionStatus = http.StatusForbidden
	client, _ := newTestClient(t, f)

	if err := client.Authenticate(context.Background(), "svc@acme.com", "secret"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	_, err := client.ProcessAttachments(context.Background(), "Acme Corp", testAttachments(), "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if len(f.uploadedNames) != 0 {
		t.Errorf("no upload should happen without a collection, got %v", f.uploadedNames)
	}
}
