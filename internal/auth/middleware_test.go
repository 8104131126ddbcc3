package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/jobads/internal/account"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T) (*gin.Engine, map[string]string) {
	t.Helper()
	ctx := context.Background()
	mgr := NewManager(NewMemoryStore())
	dir := account.NewMemoryDirectory()

	keys := make(map[string]string)
	for id, role := range map[string]account.Role{
		"op_1":  account.Operator{},
		"biz_1": account.Business{Verified: true},
	} {
		require.NoError(t, dir.Create(ctx, &account.Account{ID: id, Role: role}))
		raw, _, err := mgr.GenerateKey(ctx, id, "k")
		require.NoError(t, err)
		keys[id] = raw
	}

	r := gin.New()
	r.Use(Middleware(mgr))
	r.GET("/me", RequireAuth(), func(c *gin.Context) {
		c.String(http.StatusOK, GetAccountID(c))
	})
	r.GET("/admin", RequireAuth(), RequireOperator(dir), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r, keys
}

func do(r *gin.Engine, path, header, key string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	if key != "" {
		req.Header.Set(header, key)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestMiddleware_SetsAccountID(t *testing.T) {
	r, keys := newRouter(t)

	w := do(r, "/me", "Authorization", "Bearer "+keys["biz_1"])
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "biz_1", w.Body.String())

	w = do(r, "/me", "X-API-Key", keys["op_1"])
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "op_1", w.Body.String())
}

func TestRequireAuth_RejectsMissingOrBadKey(t *testing.T) {
	r, _ := newRouter(t)

	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", "Authorization", "sk_bogus").Code)
}

func TestRequireOperator(t *testing.T) {
	r, keys := newRouter(t)

	assert.Equal(t, http.StatusNoContent, do(r, "/admin", "Authorization", keys["op_1"]).Code)
	assert.Equal(t, http.StatusForbidden, do(r, "/admin", "Authorization", keys["biz_1"]).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/admin", "", "").Code)
}
