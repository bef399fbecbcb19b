package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"shopfront.io/internal/auth"
	"shopfront.io/internal/keys"
)

type createRoleRequest struct {
	Name        string   `json:"name"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type updateRoleRequest struct {
	Label       *string   `json:"label"`
	Description *string   `json:"description"`
	Permissions *[]string `json:"permissions"`
}

type createPermissionRequest struct {
	Key         string `json:"key"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type updatePermissionRequest struct {
	Description *string `json:"description"`
	Category    *string `json:"category"`
}

type addKeyRequest struct {
	Purpose       string `json:"purpose"`
	PrivateKeyPEM string `json:"private_key_pem"`
	PublicKeyPEM  string `json:"public_key_pem"`
}

type userAccessRequest struct {
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

type keyView struct {
	KID       string    `json:"kid"`
	Purpose   string    `json:"purpose"`
	Algorithm string    `json:"alg"`
	Use       string    `json:"use"`
	Active    bool      `json:"active"`
	CanSign   bool      `json:"can_sign"`
	CreatedAt time.Time `json:"created_at"`
}

func newKeyView(e keys.Entry) keyView {
	return keyView{
		KID:       e.ID,
		Purpose:   string(e.Purpose),
		Algorithm: e.Algorithm,
		Use:       e.Use,
		Active:    e.Active,
		CanSign:   e.CanSign(),
		CreatedAt: e.CreatedAt,
	}
}

func actorID(r *http.Request) string {
	id, _ := auth.IdentityFromContext(r.Context())
	return id.UserID
}

// --- Roles ---

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.catalog.ListRoles(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) handleGetRole(w http.ResponseWriter, r *http.Request) {
	role, err := a.catalog.GetRole(r.Context(), r.PathValue("name"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.catalog.CreateRole(r.Context(), actorID(r), auth.RoleInput{
		Name:        req.Name,
		Label:       req.Label,
		Description: req.Description,
		Permissions: req.Permissions,
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/admin/roles/%s", role.Name))
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	upd := auth.RoleUpdate{Label: req.Label, Description: req.Description}
	if req.Permissions != nil {
		upd.Permissions = *req.Permissions
		upd.SetPermissions = true
	}
	role, err := a.catalog.UpdateRole(r.Context(), actorID(r), r.PathValue("name"), upd)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	if err := a.catalog.DeleteRole(r.Context(), actorID(r), r.PathValue("name")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Permissions ---

func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.catalog.ListPermissions(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (a *API) handleCreatePermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	perm, err := a.catalog.CreatePermission(r.Context(), actorID(r), auth.PermissionInput{
		Key:         req.Key,
		Description: req.Description,
		Category:    req.Category,
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, perm)
}

func (a *API) handleUpdatePermission(w http.ResponseWriter, r *http.Request) {
	var req updatePermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	perm, err := a.catalog.UpdatePermission(r.Context(), actorID(r), r.PathValue("key"), auth.PermissionUpdate{
		Description: req.Description,
		Category:    req.Category,
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perm)
}

func (a *API) handleDeletePermission(w http.ResponseWriter, r *http.Request) {
	if err := a.catalog.DeletePermission(r.Context(), actorID(r), r.PathValue("key")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Keys ---

func (a *API) handleListKeys(w http.ResponseWriter, r *http.Request) {
	entries := a.catalog.ListKeys()
	out := make([]keyView, 0, len(entries))
	for _, e := range entries {
		out = append(out, newKeyView(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": out})
}

func (a *API) handleAddKey(w http.ResponseWriter, r *http.Request) {
	var req addKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	entry, err := a.catalog.AddKey(r.Context(), actorID(r), auth.KeyInput{
		Purpose:       keys.Purpose(req.Purpose),
		PrivateKeyPEM: req.PrivateKeyPEM,
		PublicKeyPEM:  req.PublicKeyPEM,
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newKeyView(entry))
}

func (a *API) handleSetKeyActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, err := a.catalog.SetKeyActive(r.Context(), actorID(r), r.PathValue("kid"), active)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newKeyView(entry))
	}
}

// --- Users ---

func (a *API) handleSetUserAccess(w http.ResponseWriter, r *http.Request) {
	var req userAccessRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	u, err := a.catalog.SetUserAccess(r.Context(), actorID(r), r.PathValue("id"), auth.AccessInput{
		Role:        req.Role,
		Permissions: req.Permissions,
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserView(u))
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	perms, err := a.resolver.EffectivePermissions(r.Context(), userID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"permissions": perms,
	})
}

func (a *API) handleRevokeSessions(w http.ResponseWriter, r *http.Request) {
	n, err := a.auth.RevokeSessions(r.Context(), actorID(r), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": n})
}
