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

// Package mailparse validates inbound invoice emails and extracts their
// attachments. Subjects must follow the "INVOICES: <company>" convention;
// only PDF, JPEG, and PNG parts with an explicit attachment disposition
// are kept.
package mailparse

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"regexp"
	"strings"

	"github.com/satvos/ingestion/internal/models"
)

// allowedContentTypes maps accepted MIME types to the file extension used
// when a filename has to be synthesised.
var allowedContentTypes = map[string]string{
	"application/pdf": "pdf",
	"image/jpeg":      "jpg",
	"image/png":       "png",
}

var subjectPattern = regexp.MustCompile(`(?i)^INVOICES:\s+(.+)$`)

var (
	// ErrSubjectMismatch signals an email whose subject does not follow the
	// "INVOICES: <company>" convention. Expected filtering, not a failure.
	ErrSubjectMismatch = errors.New("subject does not match expected format")

	// ErrNoAttachments signals an email with no usable PDF/JPG/PNG attachments.
	ErrNoAttachments = errors.New("no valid PDF/JPG/PNG attachments found")
)

// ValidateSubject checks that the subject matches "INVOICES: <company>"
// (case-insensitive) and returns the trimmed company name.
func ValidateSubject(subject string) (string, bool) {
	m := subjectPattern.FindStringSubmatch(strings.TrimSpace(subject))
	if m == nil {
		return "", false
	}
	company := strings.TrimSpace(m[1])
	if company == "" {
		return "", false
	}
	return company, true
}

// header is satisfied by both mail.Header and textproto.MIMEHeader,
// letting the walker treat the top-level message and nested parts alike.
type header interface{ Get(string) string }

// ExtractAttachments walks all MIME parts of the message and returns the
// allow-listed attachments in encounter order. Inline-disposed parts are
// skipped regardless of type. Parts without a filename get a synthesised
// one, attachment_<n>.<ext>, numbered over kept parts.
func ExtractAttachments(msg *mail.Message) []models.Attachment {
	var attachments []models.Attachment
	counter := 0

	var walk func(h header, body io.Reader)
	walk = func(h header, body io.Reader) {
		ctype, params, err := mime.ParseMediaType(h.Get("Content-Type"))
		if err != nil {
			ctype = "text/plain"
		}

		if strings.HasPrefix(ctype, "multipart/") {
			mr := multipart.NewReader(body, params["boundary"])
			for {
				p, err := mr.NextPart()
				if err == io.EOF {
					break
				}
				if err != nil {
					slog.Warn("error reading multipart body", "error", err)
					break
				}
				walk(p.Header, p)
			}
			return
		}

		ext, allowed := allowedContentTypes[ctype]
		if !allowed {
			return
		}

		// Only explicit attachments — embedded/inline images are not invoices.
		disp, dispParams, err := mime.ParseMediaType(h.Get("Content-Disposition"))
		if err != nil || disp != "attachment" {
			return
		}

		payload := decodePayload(h.Get("Content-Transfer-Encoding"), body)
		if len(payload) == 0 {
			return
		}

		counter++
		filename := dispParams["filename"]
		if filename == "" {
			filename = params["name"]
		}
		if filename == "" {
			filename = fmt.Sprintf("attachment_%d.%s", counter, ext)
		}

		attachments = append(attachments, models.Attachment{
			Filename:    filename,
			ContentType: ctype,
			Data:        payload,
			Extension:   ext,
		})
	}

	walk(msg.Header, msg.Body)
	return attachments
}

// decodePayload reads a part body, applying the declared transfer encoding.
// Returns nil for undecodable payloads so the caller can skip the part.
func decodePayload(cte string, body io.Reader) []byte {
	reader := body
	switch strings.ToLower(strings.TrimSpace(cte)) {
	case "base64":
		reader = base64.NewDecoder(base64.StdEncoding, body)
	case "quoted-printable":
		reader = quotedprintable.NewReader(body)
	default:
		// 7bit, 8bit, binary -> no wrapper
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		slog.Warn("skipping undecodable attachment payload", "error", err)
		return nil
	}
	return data
}

// ParseRawEmail parses raw MIME bytes into a ParsedEmail.
//
// Returns ErrSubjectMismatch if the subject does not match the invoice
// convention and ErrNoAttachments if no usable attachments are found.
// Message-ID and From are taken verbatim from the headers, empty if absent.
func ParseRawEmail(raw []byte) (*models.ParsedEmail, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}

	subject := decodeHeaderWords(msg.Header.Get("Subject"))
	company, ok := ValidateSubject(subject)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSubjectMismatch, subject)
	}

	attachments := ExtractAttachments(msg)
	if len(attachments) == 0 {
		return nil, ErrNoAttachments
	}

	return &models.ParsedEmail{
		MessageID:   msg.Header.Get("Message-Id"),
		Subject:     subject,
		CompanyName: company,
		Sender:      msg.Header.Get("From"),
		Attachments: attachments,
	}, nil
}

// decodeHeaderWords decodes RFC 2047 encoded-words in a header value,
// falling back to the raw value if decoding fails.
func decodeHeaderWords(value string) string {
	dec := new(mime.WordDecoder)
	decoded, err := dec.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}
