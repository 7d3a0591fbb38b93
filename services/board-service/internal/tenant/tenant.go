// Package tenant resolves the tenant scope from inbound request identity.
// Resolution fails closed: no token, a bad token, or a token without a
// tenant claim all yield Unauthorized. There is no default tenant.
package tenant

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/openbay/shopboard/libs/auth"
	"github.com/openbay/shopboard/services/board-service/internal/board"
)

type Resolver struct {
	secret string
}

func NewResolver(secret string) *Resolver {
	return &Resolver{secret: secret}
}

// Resolve returns the tenant id asserted by the request's Bearer token.
// The returned id is threaded explicitly through every downstream call;
// it is never stored in the request context.
func (r *Resolver) Resolve(req *http.Request) (string, error) {
	authz := strings.TrimSpace(req.Header.Get("Authorization"))
	if authz == "" {
		return "", board.Unauthorized("missing bearer token")
	}
	token, ok := strings.CutPrefix(authz, "Bearer ")
	if !ok {
		return "", board.Unauthorized("authorization header is not a bearer token")
	}

	claims, err := auth.ParseAndVerifyHS256(strings.TrimSpace(token), r.secret)
	if err != nil {
		return "", board.Unauthorized("invalid bearer token")
	}
	tenantID := strings.TrimSpace(claims.TenantID)
	if tenantID == "" {
		return "", board.Unauthorized("token has no tenant scope")
	}
	if _, err := uuid.Parse(tenantID); err != nil {
		return "", board.Unauthorized("token tenant scope is not a valid id")
	}
	return tenantID, nil
}
