// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthPulse Contributors

// Package checker queries the backend session endpoint and classifies the
// outcome into the categories the auth state machinery distinguishes:
// an authenticated identity, an expected negative, or a backend fault.
package checker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/samber/oops"

	"github.com/authpulse/authpulse/internal/authstate"
)

// DefaultTimeout bounds a single session check round trip.
const DefaultTimeout = 10 * time.Second

// maxBodyBytes caps how much of a session response is read.
const maxBodyBytes = 1 << 20

// Checker answers "who is the current user" against some authority.
type Checker interface {
	// Check returns the authenticated identity, or an error. A nil error
	// always carries a non-nil identity. Expected negatives satisfy
	// authstate.IsUnauthenticated; anything else is a backend fault.
	Check(ctx context.Context) (*authstate.Identity, error)
}

// HTTPChecker implements Checker against an HTTP session endpoint.
type HTTPChecker struct {
	client   *http.Client
	endpoint string
}

// NewHTTPChecker creates a checker for the given session endpoint URL.
// If client is nil a default client with DefaultTimeout is used.
func NewHTTPChecker(endpoint string, client *http.Client) *HTTPChecker {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &HTTPChecker{client: client, endpoint: endpoint}
}

// sessionResponse is the wire shape of a successful session lookup.
type sessionResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Check queries the session endpoint and maps the HTTP outcome onto the
// auth error taxonomy. 401 and 403 are expected negatives; every other
// non-200 status and any transport error is a fault.
func (c *HTTPChecker) Check(ctx context.Context) (*authstate.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, oops.Code("AUTH_CHECK_FAILED").With("endpoint", c.endpoint).Wrap(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, oops.Code("AUTH_BACKEND_UNREACHABLE").With("endpoint", c.endpoint).Wrap(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return decodeIdentity(resp.Body)
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, oops.Code("AUTH_UNAUTHENTICATED").
			With("status", resp.StatusCode).
			Wrap(authstate.ErrUnauthenticated)
	default:
		return nil, oops.Code("AUTH_BACKEND_ERROR").
			With("status", resp.StatusCode).
			Errorf("session endpoint returned %s", resp.Status)
	}
}

func decodeIdentity(r io.Reader) (*authstate.Identity, error) {
	var sr sessionResponse
	if err := json.NewDecoder(io.LimitReader(r, maxBodyBytes)).Decode(&sr); err != nil {
		return nil, oops.Code("AUTH_CHECK_FAILED").Wrapf(err, "decoding session response")
	}
	if sr.ID == "" {
		return nil, oops.Code("AUTH_CHECK_FAILED").Errorf("session response missing user id")
	}
	return &authstate.Identity{ID: sr.ID, Email: sr.Email, Name: sr.Name}, nil
}
