package mcp

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

const maxRequestBytes = 4 << 20

// Handler serves the HTTP transport:
//
//	POST /mcp     one JSON-RPC message or a batch array
//	GET  /health  status and tool names
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.logRequests)
	router.HandleFunc("/mcp", s.handleRPC).Methods(http.MethodPost)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	return router
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, parseError("request body too large or unreadable"))
		return
	}
	body = bytes.TrimSpace(body)

	if len(body) > 0 && body[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(body, &batch); err != nil {
			writeJSON(w, http.StatusOK, parseError(err.Error()))
			return
		}
		responses := make([]mcplib.JSONRPCMessage, 0, len(batch))
		for _, raw := range batch {
			if resp := s.HandleMessage(r.Context(), raw); resp != nil {
				responses = append(responses, resp)
			}
		}
		if len(responses) == 0 {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		writeJSON(w, http.StatusOK, responses)
		return
	}

	resp := s.HandleMessage(r.Context(), body)
	if resp == nil {
		// Notification: nothing to answer.
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"name":    s.name,
		"version": s.version,
		"tools":   s.dispatcher.Registry().Names(),
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

func parseError(detail string) map[string]interface{} {
	return map[string]interface{}{
		"jsonrpc": mcplib.JSONRPC_VERSION,
		"id":      nil,
		"error": map[string]interface{}{
			"code":    mcplib.PARSE_ERROR,
			"message": "Parse error",
			"data":    detail,
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) // Client may have gone away
}
