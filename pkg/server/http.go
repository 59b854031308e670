// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/skein/pkg/events"
	"github.com/teradata-labs/skein/pkg/types"
)

// HTTPServer binds the router to HTTP. Queries and mutations are JSON over
// POST /rpc/<router>.<procedure>; subscriptions are SSE over GET with cursor
// resumption via timestamp/sequence query parameters.
type HTTPServer struct {
	router     *Router
	httpServer *http.Server
	logger     *zap.Logger
}

// NewHTTPServer creates the HTTP binding on addr.
func NewHTTPServer(router *Router, addr string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HTTPServer{
		router: router,
		logger: logger,
		httpServer: &http.Server{
			Addr:        addr,
			ReadTimeout: 30 * time.Second,
			// No write timeout; SSE connections are long-lived.
			WriteTimeout: 0,
			IdleTimeout:  120 * time.Second,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.HandleFunc("/rpc/", h.handleRPC)
	h.httpServer.Handler = mux
	return h
}

// Handler exposes the HTTP handler for tests and embedding.
func (h *HTTPServer) Handler() http.Handler {
	return h.httpServer.Handler
}

// Start serves until the listener fails or Stop is called.
func (h *HTTPServer) Start() error {
	h.logger.Info("http server listening", zap.String("addr", h.httpServer.Addr))
	err := h.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the server down gracefully.
func (h *HTTPServer) Stop(ctx context.Context) error {
	return h.httpServer.Shutdown(ctx)
}

// rpcError is the wire error envelope.
type rpcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorCode maps the error taxonomy onto stable wire codes and HTTP status.
func errorCode(err error) (string, int) {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return "NotFound", http.StatusNotFound
	case errors.Is(err, types.ErrSessionBusy):
		return "SessionBusy", http.StatusConflict
	case errors.Is(err, types.ErrInvariantViolated):
		return "InvariantViolated", http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrProviderAuth):
		return "ProviderAuth", http.StatusBadGateway
	case errors.Is(err, types.ErrProviderProtocol):
		return "ProviderProtocol", http.StatusBadGateway
	case errors.Is(err, types.ErrStorageFailed):
		return "StorageFailed", http.StatusInternalServerError
	case errors.Is(err, context.Canceled):
		return "Cancelled", http.StatusRequestTimeout
	default:
		return "Internal", http.StatusInternalServerError
	}
}

func (h *HTTPServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/rpc/")
	proc, ok := h.router.Lookup(name)
	if !ok {
		h.writeError(w, http.StatusNotFound, "NotFound", fmt.Sprintf("unknown procedure: %s", name))
		return
	}

	switch {
	case proc.Kind == KindSubscription && r.Method == http.MethodGet:
		h.handleSubscription(w, r, name)
	case proc.Kind != KindSubscription && r.Method == http.MethodPost:
		h.handleCall(w, r, name)
	default:
		h.writeError(w, http.StatusMethodNotAllowed, "Internal", "method not allowed")
	}
}

func (h *HTTPServer) handleCall(w http.ResponseWriter, r *http.Request, name string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Internal", "unreadable body")
		return
	}

	result, err := h.router.Call(r.Context(), name, body)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		code, status := errorCode(err)
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": rpcError{Code: code, Message: err.Error()},
		})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result})
}

// subscriptionInput builds the procedure input from query parameters. The
// cursor, when present, resumes the stream strictly after
// (timestamp, sequence).
func subscriptionInput(r *http.Request) json.RawMessage {
	q := r.URL.Query()
	input := map[string]any{}
	if v := q.Get("sessionId"); v != "" {
		input["sessionId"] = v
	}
	if v := q.Get("channel"); v != "" {
		input["channel"] = v
	}
	if v := q.Get("replayLast"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			input["replayLast"] = n
		}
	}
	if ts := q.Get("timestamp"); ts != "" {
		timestamp, err1 := strconv.ParseInt(ts, 10, 64)
		sequence, err2 := strconv.Atoi(q.Get("sequence"))
		if err1 == nil && err2 == nil {
			input["fromCursor"] = events.Cursor{Timestamp: timestamp, Sequence: sequence}
		}
	}
	encoded, _ := json.Marshal(input)
	return encoded
}

func (h *HTTPServer) handleSubscription(w http.ResponseWriter, r *http.Request, name string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Internal", "streaming unsupported")
		return
	}

	stream, err := h.router.Subscribe(r.Context(), name, subscriptionInput(r))
	if err != nil {
		code, status := errorCode(err)
		h.writeError(w, status, code, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-stream:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "id: %s\ndata: %s\n\n", event.ID, event.Payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *HTTPServer) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": rpcError{Code: code, Message: message},
	})
}
