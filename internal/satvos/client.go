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

// Package satvos implements the HTTP client for the SATVOS backend API:
// login with silent token refresh, collection creation, multipart batch
// file upload, and per-file document creation.
package satvos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/satvos/ingestion/internal/models"
)

// refreshBuffer is how close to expiry the access token may get before a
// call triggers a silent refresh.
const refreshBuffer = 60 * time.Second

// DefaultTimeout bounds every request when no http.Client is supplied.
const DefaultTimeout = 30 * time.Second

// Client owns one authenticated session against the SATVOS API. A Client
// is bound to a single tenant's credentials and base URL; it must not be
// shared across ingestions for different tenants, as the bearer credential
// would be corrupted.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tenantSlug string
	token      *oauth2.Token
	now        func() time.Time
}

// NewClient creates a SATVOS client for one tenant. A nil httpClient gets
// a default with DefaultTimeout.
func NewClient(httpClient *http.Client, baseURL, tenantSlug string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		tenantSlug: tenantSlug,
		now:        time.Now,
	}
}

// tokenResponse mirrors the login/refresh response envelope.
type tokenResponse struct {
	Data struct {
		AccessToken  string    `json:"access_token"`
		RefreshToken string    `json:"refresh_token"`
		ExpiresAt    time.Time `json:"expires_at"`
	} `json:"data"`
}

// idResponse mirrors creation endpoints that return a single ID.
type idResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// FileInfo echoes the stored file for a successful upload entry.
type FileInfo struct {
	ID           string `json:"id"`
	OriginalName string `json:"original_name"`
}

// FileResult is one entry of the batch upload response. The client returns
// these verbatim; interpreting them is the caller's job.
type FileResult struct {
	Success bool     `json:"success"`
	File    FileInfo `json:"file"`
	Error   string   `json:"error"`
}

// uploadResponse mirrors the batch upload response envelope.
type uploadResponse struct {
	Data []FileResult `json:"data"`
}

// Authenticate logs in with the tenant's service credentials and stores
// the resulting token pair. Returns *AuthError on any non-2xx response.
func (c *Client) Authenticate(ctx context.Context, email, password string) error {
	resp, raw, err := c.postJSON(ctx, "/auth/login", map[string]string{
		"tenant_slug": c.tenantSlug,
		"email":       email,
		"password":    password,
	})
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &AuthError{Reason: "login failed", Status: resp.StatusCode, Body: string(raw)}
	}
	if err := c.storeToken(raw); err != nil {
		return err
	}
	slog.Debug("authenticated with SATVOS", "tenant", c.tenantSlug, "expires_at", c.token.Expiry)
	return nil
}

// storeToken replaces the token pair wholesale from a login/refresh body.
func (c *Client) storeToken(raw []byte) error {
	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return fmt.Errorf("decode token response: %w", err)
	}
	c.token = &oauth2.Token{
		AccessToken:  tr.Data.AccessToken,
		RefreshToken: tr.Data.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       tr.Data.ExpiresAt,
	}
	return nil
}

// ensureAuthenticated refreshes the access token if it is within
// refreshBuffer of expiry. A fresh token means no network call at all.
func (c *Client) ensureAuthenticated(ctx context.Context) error {
	if c.token == nil {
		return &AuthError{Reason: "not authenticated — call Authenticate first"}
	}
	if c.token.Expiry.Sub(c.now()) > refreshBuffer {
		return nil
	}

	slog.Debug("refreshing SATVOS access token", "tenant", c.tenantSlug)
	resp, raw, err := c.postJSON(ctx, "/auth/refresh", map[string]string{
		"refresh_token": c.token.RefreshToken,
	})
	if err != nil {
		return fmt.Errorf("refresh request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &AuthError{Reason: "token refresh failed", Status: resp.StatusCode, Body: string(raw)}
	}
	return c.storeToken(raw)
}

// CreateCollection creates a collection and returns its ID.
func (c *Client) CreateCollection(ctx context.Context, name, description string) (string, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return "", err
	}
	resp, raw, err := c.postJSON(ctx, "/collections", map[string]string{
		"name":        name,
		"description": description,
	})
	if err != nil {
		return "", fmt.Errorf("create collection request: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", &APIError{Op: "create collection", Status: resp.StatusCode, Body: string(raw)}
	}

	var cr idResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return "", fmt.Errorf("decode collection response: %w", err)
	}
	return cr.Data.ID, nil
}

// BatchUploadFiles uploads all attachments to a collection in one
// multipart request and returns the per-file results verbatim. A 207
// means partial success; anything outside {200, 201, 207} fails whole.
func (c *Client) BatchUploadFiles(ctx context.Context, collectionID string, attachments []models.Attachment) ([]FileResult, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, att := range attachments {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="files"; filename="%s"`, escapeQuotes(att.Filename)))
		h.Set("Content-Type", att.ContentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("create form part: %w", err)
		}
		if _, err := part.Write(att.Data); err != nil {
			return nil, fmt.Errorf("write form part: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/files", c.baseURL, collectionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.token.SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("batch upload request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upload response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusMultiStatus:
	default:
		return nil, &APIError{Op: "batch upload", Status: resp.StatusCode, Body: string(raw)}
	}

	var ur uploadResponse
	if err := json.Unmarshal(raw, &ur); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return ur.Data, nil
}

// CreateDocument creates a document for an uploaded file, triggering the
// backend's async parsing, and returns the document ID.
func (c *Client) CreateDocument(ctx context.Context, fileID, collectionID string) (string, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return "", err
	}
	resp, raw, err := c.postJSON(ctx, "/documents", map[string]string{
		"file_id":       fileID,
		"collection_id": collectionID,
		"document_type": "invoice",
		"parse_mode":    "single",
	})
	if err != nil {
		return "", fmt.Errorf("create document request: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", &APIError{Op: "create document", Status: resp.StatusCode, Body: string(raw)}
	}

	var dr idResponse
	if err := json.Unmarshal(raw, &dr); err != nil {
		return "", fmt.Errorf("decode document response: %w", err)
	}
	return dr.Data.ID, nil
}

// ProcessAttachments runs the full pipeline for one parsed email: create a
// collection, batch upload, then create a document per uploaded file.
// Per-file failures are recorded in the result and never abort the batch;
// a collection or whole-upload failure aborts with an error.
func (c *Client) ProcessAttachments(ctx context.Context, companyName string, attachments []models.Attachment, senderEmail string) (*models.ProcessingResult, error) {
	collectionName := fmt.Sprintf("%s - %s", companyName, c.now().UTC().Format("2006-01-02 15:04"))
	description := fmt.Sprintf("Auto-imported from email for %s", companyName)
	if senderEmail != "" {
		description = fmt.Sprintf("Auto-imported from email sent by %s", senderEmail)
	}

	collectionID, err := c.CreateCollection(ctx, collectionName, description)
	if err != nil {
		return nil, err
	}
	slog.Info("created collection",
		"collection_id", collectionID,
		"name", collectionName,
	)

	result := &models.ProcessingResult{
		CollectionID:   collectionID,
		CollectionName: collectionName,
	}

	uploadResults, err := c.BatchUploadFiles(ctx, collectionID, attachments)
	if err != nil {
		return nil, err
	}

	for _, item := range uploadResults {
		filename := item.File.OriginalName
		if filename == "" {
			filename = "unknown"
		}

		if !item.Success {
			errMsg := item.Error
			if errMsg == "" {
				errMsg = "unknown error"
			}
			result.FilesFailed = append(result.FilesFailed, fmt.Sprintf("%s: %s", filename, errMsg))
			slog.Warn("file upload failed", "filename", filename, "error", errMsg)
			continue
		}

		result.FilesUploaded++

		docID, err := c.CreateDocument(ctx, item.File.ID, collectionID)
		if err != nil {
			result.DocumentsFailed = append(result.DocumentsFailed, fmt.Sprintf("%s: %v", filename, err))
			slog.Warn("document creation failed",
				"file_id", item.File.ID,
				"filename", filename,
				"error", err,
			)
			continue
		}

		result.DocumentsCreated++
		slog.Info("created document",
			"document_id", docID,
			"file_id", item.File.ID,
			"filename", filename,
		)
	}

	return result, nil
}

// postJSON issues an authenticated JSON POST and returns the response with
// its fully-read body.
func (c *Client) postJSON(ctx context.Context, path string, payload any) (*http.Response, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != nil {
		c.token.SetAuthHeader(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	return resp, raw, nil
}

// escapeQuotes matches the quoting mime/multipart applies to form names.
func escapeQuotes(s string) string {
	return strings.NewReplacer("\\", "\\\\", `"`, `\"`).Replace(s)
}
