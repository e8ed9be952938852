package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"campusgrid.org/internal/auth"
)

type updateUserRequest struct {
	Email    *string `json:"email"`
	FullName *string `json:"full_name"`
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.authorize(w, r, auth.Requirement{Permission: auth.PermReadUsers, Resource: "user"}); !ok {
		return
	}
	users, err := a.svc.List(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "list users failed")
		return
	}
	if users == nil {
		users = []*auth.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/auth/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1:
		a.handleUser(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "role":
		a.handleAssignRole(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUser(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		a.getUser(w, r, userID)
	case http.MethodPut:
		a.updateUser(w, r, userID)
	case http.MethodDelete:
		a.deactivateUser(w, r, userID)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request, userID string) {
	if _, ok := a.selfOrPermission(w, r, userID, auth.PermReadUsers); !ok {
		return
	}
	user, err := a.svc.GetWithPermissions(r.Context(), userID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request, userID string) {
	if _, ok := a.selfOrPermission(w, r, userID, auth.PermWriteUsers); !ok {
		return
	}
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.svc.Update(r.Context(), userID, auth.UserUpdate{
		Email:    req.Email,
		FullName: req.FullName,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) deactivateUser(w http.ResponseWriter, r *http.Request, userID string) {
	if _, ok := a.authorize(w, r, auth.Requirement{Permission: auth.PermDeleteUsers, Resource: "user"}); !ok {
		return
	}
	if err := a.svc.Deactivate(r.Context(), userID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAssignRole(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.authorize(w, r, auth.Requirement{Permission: auth.PermWriteUsers, Resource: "user"}); !ok {
		return
	}
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	before, err := a.svc.Get(r.Context(), userID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	user, err := a.svc.SetRole(r.Context(), userID, auth.Role(strings.TrimSpace(req.Role)))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("user role changed from %s to %s", before.Role, user.Role),
	})
}

// selfOrPermission lets users act on their own record; anything else needs
// the given permission (and a denial is audited by the authorizer).
func (a *API) selfOrPermission(w http.ResponseWriter, r *http.Request, userID, perm string) (auth.Claims, bool) {
	token, err := BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		unauthorized(w, r, err.Error())
		return auth.Claims{}, false
	}
	claims, err := a.authz.Authorize(r.Context(), token, auth.Requirement{Resource: "user"})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			unauthorized(w, r, "token expired")
		default:
			unauthorized(w, r, "invalid token")
		}
		return auth.Claims{}, false
	}
	if claims.Subject == userID {
		return claims, true
	}
	return a.authorize(w, r, auth.Requirement{Permission: perm, Resource: "user"})
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "user not found")
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusBadRequest, "email already registered")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "operation failed")
	}
}
