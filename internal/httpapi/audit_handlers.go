package httpapi

import (
	"net/http"
	"strings"

	"campusgrid.org/internal/audit"
	"campusgrid.org/internal/auth"
)

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.handleListAuditLogs(w, r)
	case http.MethodPost:
		a.handleCreateAuditLog(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, auth.Requirement{Permission: auth.PermReadAuditLogs, Resource: "audit_logs"}); !ok {
		return
	}
	q := r.URL.Query()
	filter := audit.Filter{
		UserID:  strings.TrimSpace(q.Get("user_id")),
		Action:  strings.TrimSpace(q.Get("action")),
		Reverse: q.Get("order") == "desc",
	}
	entries, err := a.trail.Query(r.Context(), filter)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "audit query failed")
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleCreateAuditLog accepts entries from other daemons, so accounting
// stays centralized in one trail. The gateway posts its access denials here;
// at the public edge this path is not exempt from authentication.
func (a *API) handleCreateAuditLog(w http.ResponseWriter, r *http.Request) {
	var entry audit.Entry
	if err := decodeJSON(w, r, &entry); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	entry.Action = strings.TrimSpace(entry.Action)
	entry.Resource = strings.TrimSpace(entry.Resource)
	if entry.Action == "" || entry.Resource == "" {
		writeError(w, r, http.StatusBadRequest, "action and resource are required")
		return
	}
	switch entry.Status {
	case "", audit.StatusSuccess, audit.StatusFailure:
	default:
		writeError(w, r, http.StatusBadRequest, "status must be success or failure")
		return
	}
	if entry.IPAddress == "" {
		entry.IPAddress = ClientIP(r)
	}
	entry.ID = a.trail.Append(r.Context(), &entry)
	writeJSON(w, http.StatusCreated, entry)
}

// handleUserActivity is the "most recent activity" view for one user:
// same data as /audit-logs, newest first.
func (a *API) handleUserActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/auth/audit-logs/"), "/")
	if userID == "" || strings.Contains(userID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if _, ok := a.authorize(w, r, auth.Requirement{Permission: auth.PermReadAuditLogs, Resource: "audit_logs"}); !ok {
		return
	}
	entries, err := a.trail.Query(r.Context(), audit.Filter{UserID: userID, Reverse: true})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "audit query failed")
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
