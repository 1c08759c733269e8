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

// Package webhook handles SNS HTTPS deliveries of SES inbound email
// events. When SES receives mail for a subscribed domain, SNS POSTs the
// receipt event to the registered endpoint. The handler acknowledges
// immediately and runs the ingestion pipeline in the background — the
// outcome is always reported as success so SNS never retries on pipeline
// failures.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/satvos/ingestion/internal/ingest"
	"github.com/satvos/ingestion/internal/models"
)

// EventProcessor runs the ingestion pipeline for one SES event.
// Implemented by ingest.Processor.
type EventProcessor interface {
	Process(ctx context.Context, event *models.SESEvent) ingest.Outcome
}

// snsEnvelope is the message SNS POSTs to an HTTPS subscriber.
type snsEnvelope struct {
	Type         string `json:"Type"`
	MessageID    string `json:"MessageId"`
	TopicArn     string `json:"TopicArn"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
	Timestamp    string `json:"Timestamp"`
}

// Handler processes SNS deliveries of SES receipt events.
type Handler struct {
	processor  EventProcessor
	httpClient *http.Client
}

// NewHandler creates an inbound event handler.
func NewHandler(processor EventProcessor) *Handler {
	return &Handler{
		processor:  processor,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// ServeInbound handles SNS webhook requests.
//
// Subscription flow:
//   - On subscribing the endpoint to the topic, SNS POSTs a
//     SubscriptionConfirmation carrying a SubscribeURL
//   - We confirm by GETting that URL
//
// Notification flow:
//   - SNS POSTs a Notification whose Message field is the SES receipt
//     event JSON
//   - We respond 200 OK immediately and process in the background
func (h *Handler) ServeInbound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusOK)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Error("failed to read inbound body", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		slog.Info("inbound body not valid JSON, ignoring", "body_len", len(body))
		w.WriteHeader(http.StatusOK)
		return
	}

	switch env.Type {
	case "SubscriptionConfirmation":
		slog.Info("SNS subscription confirmation received", "topic", env.TopicArn)
		w.WriteHeader(http.StatusOK)
		go h.confirmSubscription(env.SubscribeURL, env.TopicArn)
		return

	case "UnsubscribeConfirmation":
		slog.Warn("SNS unsubscribe confirmation received", "topic", env.TopicArn)
		w.WriteHeader(http.StatusOK)
		return
	}

	// A Notification carries the SES event in Message. Topics configured
	// for raw message delivery POST the event itself, with no envelope.
	payload := []byte(env.Message)
	if env.Type == "" {
		payload = body
	}

	var event models.SESEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		slog.Warn("notification message is not an SES event", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	// Respond immediately — pipeline outcomes must never trigger SNS retries.
	w.WriteHeader(http.StatusOK)

	go func() {
		outcome := h.processor.Process(context.Background(), &event)
		slog.Info("ingestion outcome",
			"status", outcome.Status.String(),
			"summary", outcome.Summary(),
		)
	}()
}

// confirmSubscription completes the SNS handshake by GETting SubscribeURL.
func (h *Handler) confirmSubscription(subscribeURL, topicArn string) {
	if subscribeURL == "" {
		slog.Error("subscription confirmation without SubscribeURL", "topic", topicArn)
		return
	}

	resp, err := h.httpClient.Get(subscribeURL)
	if err != nil {
		slog.Error("failed to confirm SNS subscription", "topic", topicArn, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Error("SNS subscription confirmation rejected",
			"topic", topicArn,
			"status", resp.StatusCode,
		)
		return
	}
	slog.Info("SNS subscription confirmed", "topic", topicArn)
}

// shutdownTimeout bounds how long in-flight SNS deliveries may take to
// drain once shutdown begins.
const shutdownTimeout = 10 * time.Second

// Serve starts the inbound HTTP server on the given port. It binds the
// port immediately and signals readiness via the returned channel before
// starting to accept connections.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind inbound port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		slog.Info("inbound server listening", "port", port)
		close(ready)
		<-serveListener(ctx, ln, handler)
	}()

	return ready, nil
}

// serveListener runs the inbound server on ln until ctx is cancelled, then
// drains in-flight requests with a graceful shutdown. The returned channel
// closes once the server has stopped.
func serveListener(ctx context.Context, ln net.Listener, handler *Handler) <-chan struct{} {
	mux := http.NewServeMux()
	mux.HandleFunc("/inbound", handler.ServeInbound)
	mux.HandleFunc("/inbound/", handler.ServeInbound)

	server := &http.Server{
		Handler: mux,
	}

	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("inbound server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("inbound server shutdown error", "error", err)
		}
	}()

	go func() {
		defer close(done)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("inbound server error", "error", err)
		}
	}()

	return done
}
