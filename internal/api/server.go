package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"PrivMesh/internal/ledger"
	"PrivMesh/internal/logger"
	"PrivMesh/internal/network"
	"PrivMesh/internal/privacy"
)

const (
	// maxBodySize is the maximum request body size in bytes.
	maxBodySize = 1 << 20 // 1 MB

	// defaultLedgerLimit is how many records GET /ledger returns when the
	// limit parameter is absent.
	defaultLedgerLimit = 50
)

// NetworkStatus exposes the connection table for monitoring.
type NetworkStatus interface {
	Stats() network.Stats
}

// PrivacyAdmin exposes the privacy layer's administrative operations.
type PrivacyAdmin interface {
	SetPolicy(p privacy.Policy) error
	UpdateTrustScore(nodeID string, score float64) error
	GrantConsent(grantor, grantee, dataType string)
	RevokeConsent(grantor, grantee, dataType string)
	Metrics() privacy.Metrics
}

// LedgerReader exposes the persisted event stream for auditing.
type LedgerReader interface {
	Recent(n int) ([]ledger.Record, error)
	Seq() uint64
}

// Server is the HTTP admin server.
type Server struct {
	addr    string        // addr is the HTTP listen address
	status  NetworkStatus // status provides connection table snapshots
	privacy PrivacyAdmin  // privacy handles policy, trust and consent updates
	audit   LedgerReader  // audit reads the persisted event stream; may be nil
	server  *http.Server  // server is the underlying HTTP server
}

// New creates a new HTTP admin server.
func New(addr string, status NetworkStatus, priv PrivacyAdmin, audit LedgerReader) *Server {
	return &Server{
		addr:    addr,
		status:  status,
		privacy: priv,
		audit:   audit,
	}
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http admin api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Handler builds the route mux. Exposed so tests can drive the server
// without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /privacy/metrics", s.handleMetrics)
	mux.HandleFunc("GET /ledger", s.handleLedger)
	mux.HandleFunc("POST /policy", s.handleSetPolicy)
	mux.HandleFunc("POST /trust", s.handleUpdateTrust)
	mux.HandleFunc("POST /consent/grant", s.handleGrantConsent)
	mux.HandleFunc("POST /consent/revoke", s.handleRevokeConsent)

	return mux
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStats handles GET /stats requests.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusServiceUnavailable, "network not available")
		return
	}

	writeJSON(w, http.StatusOK, s.status.Stats())
}

// handleMetrics handles GET /privacy/metrics requests.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.privacy == nil {
		writeError(w, http.StatusServiceUnavailable, "privacy layer not available")
		return
	}

	writeJSON(w, http.StatusOK, s.privacy.Metrics())
}

// handleLedger handles GET /ledger requests.
func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not available")
		return
	}

	limit := defaultLedgerLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.audit.Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("read ledger: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"seq":     s.audit.Seq(),
		"records": records,
	})
}

// handleSetPolicy handles POST /policy requests.
func (s *Server) handleSetPolicy(w http.ResponseWriter, r *http.Request) {
	if s.privacy == nil {
		writeError(w, http.StatusServiceUnavailable, "privacy layer not available")
		return
	}

	var p privacy.Policy
	if err := decodeBody(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.privacy.SetPolicy(p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logger.Debug("policy set via api", "dataType", p.DataType)

	writeJSON(w, http.StatusOK, map[string]string{
		"dataType": p.DataType,
	})
}

// trustRequest is the body of POST /trust.
type trustRequest struct {
	NodeID string  `json:"nodeId"`
	Score  float64 `json:"score"`
}

// handleUpdateTrust handles POST /trust requests.
func (s *Server) handleUpdateTrust(w http.ResponseWriter, r *http.Request) {
	if s.privacy == nil {
		writeError(w, http.StatusServiceUnavailable, "privacy layer not available")
		return
	}

	var req trustRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.NodeID == "" {
		writeError(w, http.StatusBadRequest, "nodeId is required")
		return
	}

	if err := s.privacy.UpdateTrustScore(req.NodeID, req.Score); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"nodeId": req.NodeID,
		"score":  req.Score,
	})
}

// consentRequest is the body of POST /consent/grant and /consent/revoke.
type consentRequest struct {
	Grantor  string `json:"grantor"`
	Grantee  string `json:"grantee"`
	DataType string `json:"dataType"`
}

func (c consentRequest) validate() error {
	if c.Grantor == "" || c.Grantee == "" || c.DataType == "" {
		return fmt.Errorf("grantor, grantee and dataType are required")
	}

	return nil
}

// handleGrantConsent handles POST /consent/grant requests.
func (s *Server) handleGrantConsent(w http.ResponseWriter, r *http.Request) {
	if s.privacy == nil {
		writeError(w, http.StatusServiceUnavailable, "privacy layer not available")
		return
	}

	var req consentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.privacy.GrantConsent(req.Grantor, req.Grantee, req.DataType)

	writeJSON(w, http.StatusOK, req)
}

// handleRevokeConsent handles POST /consent/revoke requests.
func (s *Server) handleRevokeConsent(w http.ResponseWriter, r *http.Request) {
	if s.privacy == nil {
		writeError(w, http.StatusServiceUnavailable, "privacy layer not available")
		return
	}

	var req consentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.privacy.RevokeConsent(req.Grantor, req.Grantee, req.DataType)

	writeJSON(w, http.StatusOK, req)
}

// decodeBody parses a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %v", err)
	}

	return nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
