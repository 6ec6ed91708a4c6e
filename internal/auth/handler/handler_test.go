package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idchain/internal/platform/logger"
	"idchain/internal/users/models"
	id "idchain/pkg/domain"
	dErrors "idchain/pkg/domain-errors"
	"idchain/pkg/testutil"
)

type stubAuthenticator struct {
	user *models.User
}

func (s stubAuthenticator) Authenticate(_ context.Context, username, password string) (string, *models.User, error) {
	if username != s.user.Username || password != "secret-pass" {
		return "", nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	}
	return "signed-token", s.user, nil
}

func newRouter(user *models.User) chi.Router {
	r := chi.NewRouter()
	New(stubAuthenticator{user: user}, logger.Discard(), time.Hour).Register(r)
	return r
}

func TestHandleLogin(t *testing.T) {
	user := &models.User{ID: id.NewUserID(), Username: "alice", Email: "alice@example.com"}
	router := newRouter(user)

	t.Run("returns a bearer token", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/api/users/login",
			map[string]string{"username": "alice", "password": "secret-pass"})
		rr := testutil.DoRequest(router, req)

		testutil.AssertStatus(t, rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[TokenResponse](t, rr)
		assert.Equal(t, "signed-token", resp.AccessToken)
		assert.Equal(t, "bearer", resp.TokenType)
		assert.Equal(t, 3600, resp.ExpiresIn)
		require.NotNil(t, resp.User)
		assert.Equal(t, user.ID.String(), resp.User.ID)
	})

	t.Run("bad credentials", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/api/users/login",
			map[string]string{"username": "alice", "password": "nope"})
		rr := testutil.DoRequest(router, req)

		testutil.AssertErrorCode(t, rr, http.StatusUnauthorized, "unauthorized")
		assert.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"))
	})

	t.Run("missing password", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/api/users/login", map[string]string{"username": "alice"})
		rr := testutil.DoRequest(router, req)
		testutil.AssertErrorCode(t, rr, http.StatusBadRequest, "validation_error")
	})
}
