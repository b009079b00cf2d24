// Package api implements the HTTP surface of the route analytics service.
package api

import (
	"errors"
	"net/http"
	"strings"

	"vrpdash/internal/auth"
)

type Principal struct {
	Tenant  string
	Role    string // admin, dispatcher, viewer
	Subject string
}

const defaultTenant = "t_demo"

var errUnauthenticated = errors.New("bearer token required")

// getPrincipal resolves the caller.
//   - Authorization: Bearer is checked by the configured verifier (dev/hmac/jwks).
//   - Without a bearer token, dev mode trusts X-Tenant-Id / X-Role headers.
func (s *Server) getPrincipal(r *http.Request) (Principal, error) {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		pr, err := s.Auth.Verify(tok)
		if err != nil {
			return Principal{}, err
		}
		return Principal{Tenant: pr.Tenant, Role: pr.Role, Subject: pr.Subject}, nil
	}
	if s.Auth != nil && s.Auth.Mode != auth.ModeDev {
		return Principal{}, errUnauthenticated
	}
	tenant := r.Header.Get("X-Tenant-Id")
	role := strings.ToLower(r.Header.Get("X-Role"))
	if tenant == "" {
		tenant = defaultTenant
	}
	if role == "" {
		role = "admin"
	}
	return Principal{Tenant: tenant, Role: role}, nil
}

// principal writes a 401 and returns false when the caller cannot be identified.
func (s *Server) principal(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	p, err := s.getPrincipal(r)
	if err != nil {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), r.URL.Path)
		return Principal{}, false
	}
	return p, true
}

// writer is principal plus the admin/dispatcher check for mutating endpoints.
func (s *Server) writer(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	p, ok := s.principal(w, r)
	if !ok {
		return p, false
	}
	if !p.CanWrite() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "dispatcher or admin required", r.URL.Path)
		return p, false
	}
	return p, true
}

func (s *Server) admin(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	p, ok := s.principal(w, r)
	if !ok {
		return p, false
	}
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return p, false
	}
	return p, true
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

func (p Principal) CanWrite() bool { return p.IsAdmin() || p.Role == "dispatcher" }
