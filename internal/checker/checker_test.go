// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthPulse Contributors

package checker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authpulse/authpulse/internal/authstate"
	"github.com/authpulse/authpulse/pkg/errutil"
)

func newServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPChecker_Check(t *testing.T) {
	ctx := context.Background()

	t.Run("200 returns the identity", func(t *testing.T) {
		srv := newServer(t, http.StatusOK, `{"id":"u1","email":"ada@example.com","name":"Ada"}`)
		c := NewHTTPChecker(srv.URL, nil)

		user, err := c.Check(ctx)
		require.NoError(t, err)
		assert.Equal(t, &authstate.Identity{ID: "u1", Email: "ada@example.com", Name: "Ada"}, user)
	})

	t.Run("401 is an expected negative", func(t *testing.T) {
		srv := newServer(t, http.StatusUnauthorized, `{"error":"no session"}`)
		c := NewHTTPChecker(srv.URL, nil)

		user, err := c.Check(ctx)
		assert.Nil(t, user)
		assert.True(t, authstate.IsUnauthenticated(err))
		errutil.AssertErrorCode(t, err, "AUTH_UNAUTHENTICATED")
	})

	t.Run("403 is an expected negative", func(t *testing.T) {
		srv := newServer(t, http.StatusForbidden, "")
		c := NewHTTPChecker(srv.URL, nil)

		_, err := c.Check(ctx)
		assert.True(t, authstate.IsUnauthenticated(err))
	})

	t.Run("500 is a backend fault", func(t *testing.T) {
		srv := newServer(t, http.StatusInternalServerError, "boom")
		c := NewHTTPChecker(srv.URL, nil)

		user, err := c.Check(ctx)
		assert.Nil(t, user)
		assert.False(t, authstate.IsUnauthenticated(err))
		errutil.AssertErrorCode(t, err, "AUTH_BACKEND_ERROR")
		errutil.AssertErrorContext(t, err, "status", http.StatusInternalServerError)
	})

	t.Run("unreachable backend is a fault", func(t *testing.T) {
		c := NewHTTPChecker("http://127.0.0.1:1/session", nil)

		_, err := c.Check(ctx)
		require.Error(t, err)
		assert.False(t, authstate.IsUnauthenticated(err))
		errutil.AssertErrorCode(t, err, "AUTH_BACKEND_UNREACHABLE")
	})

	t.Run("malformed body is a fault", func(t *testing.T) {
		srv := newServer(t, http.StatusOK, "not json")
		c := NewHTTPChecker(srv.URL, nil)

		_, err := c.Check(ctx)
		errutil.AssertErrorCode(t, err, "AUTH_CHECK_FAILED")
	})

	t.Run("missing user id is a fault", func(t *testing.T) {
		srv := newServer(t, http.StatusOK, `{"email":"ada@example.com"}`)
		c := NewHTTPChecker(srv.URL, nil)

		_, err := c.Check(ctx)
		errutil.AssertErrorCode(t, err, "AUTH_CHECK_FAILED")
	})
}
