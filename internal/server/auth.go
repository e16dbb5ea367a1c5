// ABOUTME: Request authentication and authorization shared by all API handlers.
// ABOUTME: Resolves the X-API-Key header against the key set and checks permissions.

package server

import (
	"net/http"

	"github.com/complyd/complyd/internal/apikeys"
)

const apiKeyHeader = "X-API-Key"

// authorize resolves the presented key and requires the given permission.
// Returns the key and 0 on success, or an HTTP status and message.
func authorize(r *http.Request, keys *apikeys.Set, permission string) (apikeys.Key, int, string) {
	value := r.Header.Get(apiKeyHeader)
	if value == "" {
		return apikeys.Key{}, http.StatusUnauthorized, "missing API key"
	}
	key, ok := keys.Lookup(value)
	if !ok {
		return apikeys.Key{}, http.StatusUnauthorized, "unknown API key"
	}
	if !key.Has(permission) {
		return apikeys.Key{}, http.StatusForbidden, "API key lacks " + permission + " permission"
	}
	return key, 0, ""
}
