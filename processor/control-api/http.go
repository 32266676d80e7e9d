package controlapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/c360studio/evoq/approval"
	"github.com/c360studio/evoq/metrics"
	"github.com/c360studio/evoq/workflow"
)

// RegisterHTTPHandlers registers HTTP handlers for the control-api component.
// The prefix includes the trailing slash (e.g., "/control-api/").
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	mux.HandleFunc(prefix+"approvals", c.handleIssueApproval)
	mux.HandleFunc(prefix+"approvals/validate", c.handleValidateApproval)
	mux.HandleFunc(prefix+"workflows", c.handleListWorkflows)
	mux.HandleFunc(prefix+"rules", c.handleGetRules)

	if !c.config.DisableMetrics {
		mux.Handle(prefix+"metrics", metrics.MetricsHandler())
	}
}

// issueRequest is the body of POST {prefix}approvals.
type issueRequest struct {
	SubjectKind string `json:"subject_kind"`
	SubjectID   string `json:"subject_id"`
	// TTLSeconds overrides the service default lifetime. Zero keeps it.
	TTLSeconds int `json:"ttl_seconds,omitempty"`
}

// validateRequest is the body of POST {prefix}approvals/validate.
type validateRequest struct {
	Token       string `json:"token"`
	SubjectKind string `json:"subject_kind"`
	SubjectID   string `json:"subject_id"`
}

// validateResponse reports a one-shot validation outcome.
type validateResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// workflowsResponse wraps the registry snapshot.
type workflowsResponse struct {
	Count     int                `json:"count"`
	Workflows []workflow.Summary `json:"workflows"`
}

// handleIssueApproval handles POST {prefix}approvals.
// Mints a one-shot token bound to the given subject.
func (c *Component) handleIssueApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.SubjectKind == "" || req.SubjectID == "" {
		http.Error(w, "subject_kind and subject_id are required", http.StatusBadRequest)
		return
	}
	if req.TTLSeconds < 0 {
		http.Error(w, "ttl_seconds cannot be negative", http.StatusBadRequest)
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl > c.config.GetMaxTokenTTL() {
		http.Error(w, "ttl_seconds exceeds maximum", http.StatusBadRequest)
		return
	}

	var tok approval.Token
	if ttl > 0 {
		tok = c.approvals.IssueWithTTL(req.SubjectKind, req.SubjectID, ttl)
	} else {
		tok = c.approvals.Issue(req.SubjectKind, req.SubjectID)
	}

	metrics.RecordApprovalIssued()
	c.noteRequest()

	c.logger.Info("approval token issued",
		"subject_kind", req.SubjectKind,
		"subject_id", req.SubjectID,
		"expires_at", tok.ExpiresAt)

	c.writeJSON(w, http.StatusCreated, tok)
}

// handleValidateApproval handles POST {prefix}approvals/validate.
// Validation consumes the token; a second call reports already_consumed.
func (c *Component) handleValidateApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Token == "" || req.SubjectKind == "" || req.SubjectID == "" {
		http.Error(w, "token, subject_kind, and subject_id are required", http.StatusBadRequest)
		return
	}

	c.noteRequest()

	valid, reason := c.approvals.ValidateAndConsume(req.Token, req.SubjectKind, req.SubjectID)
	if !valid {
		metrics.RecordApprovalValidation(string(reason))
		c.writeJSON(w, http.StatusConflict, validateResponse{Valid: false, Reason: string(reason)})
		return
	}

	metrics.RecordApprovalValidation("ok")
	c.writeJSON(w, http.StatusOK, validateResponse{Valid: true})
}

// handleListWorkflows handles GET {prefix}workflows.
// Returns registry summaries, optionally filtered by ?status=.
func (c *Component) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	statusFilter := r.URL.Query().Get("status")
	if statusFilter != "" {
		switch workflow.Status(statusFilter) {
		case workflow.StatusPending, workflow.StatusRunning,
			workflow.StatusCompleted, workflow.StatusFailed:
		default:
			http.Error(w, "Unknown status filter", http.StatusBadRequest)
			return
		}
	}

	c.noteRequest()

	summaries := c.registry.Snapshot()
	filtered := make([]workflow.Summary, 0, len(summaries))
	for _, s := range summaries {
		if statusFilter != "" && s.Status != workflow.Status(statusFilter) {
			continue
		}
		filtered = append(filtered, s)
	}

	c.writeJSON(w, http.StatusOK, workflowsResponse{
		Count:     len(filtered),
		Workflows: filtered,
	})
}

// handleGetRules handles GET {prefix}rules.
// Returns the active safety-rule snapshot.
func (c *Component) handleGetRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c.noteRequest()
	c.writeJSON(w, http.StatusOK, c.rulesStore.Load())
}

func (c *Component) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		c.logger.Warn("Failed to write response", "error", err)
	}
}
