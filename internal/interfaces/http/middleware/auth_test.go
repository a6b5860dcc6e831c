package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"

	redisinfra "articleforge-api/internal/infrastructure/persistence/redis"
	"articleforge-api/pkg/utils"
)

const testSecret = "test-secret"

type fakeAccounts struct {
	ensured []string
	err     error
}

func (f *fakeAccounts) EnsureAccount(_ context.Context, userID, _ string) error {
	f.ensured = append(f.ensured, userID)
	return f.err
}

func newAuthEngine(accounts AccountProvisioner) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Auth(AuthConfig{Enabled: true, Secret: testSecret, Issuer: "articleforge", SkipPaths: DefaultSkipPaths}, accounts))
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/api/v1/me", func(c *gin.Context) { c.String(http.StatusOK, GetUserID(c)) })
	return r
}

func doRequest(r http.Handler, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	if body.Error == "" {
		t.Fatalf("error message missing: %s", w.Body.String())
	}
	return body.Code
}

func TestAuthAcceptsValidToken(t *testing.T) {
	accounts := &fakeAccounts{}
	r := newAuthEngine(accounts)
	token, err := utils.NewJWTManager(testSecret, "articleforge", "").GenerateToken("user-1", "a@example.com", "", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	w := doRequest(r, "/api/v1/me", "Bearer "+token)
	if w.Code != http.StatusOK || w.Body.String() != "user-1" {
		t.Fatalf("status = %d body = %q", w.Code, w.Body.String())
	}
	if len(accounts.ensured) != 1 || accounts.ensured[0] != "user-1" {
		t.Fatalf("ensured = %v", accounts.ensured)
	}
}

func TestAuthRejects(t *testing.T) {
	r := newAuthEngine(nil)
	expired, _ := utils.NewJWTManager(testSecret, "articleforge", "").GenerateToken("user-1", "", "", -time.Minute)
	wrongKey, _ := utils.NewJWTManager("other", "articleforge", "").GenerateToken("user-1", "", "", time.Hour)
	wrongIssuer, _ := utils.NewJWTManager(testSecret, "someone-else", "").GenerateToken("user-1", "", "", time.Hour)

	cases := []struct {
		name, header, code string
	}{
		{"missing", "", "4013"},
		{"not bearer", "Basic abc", "4012"},
		{"garbage", "Bearer abc.def.ghi", "4012"},
		{"expired", "Bearer " + expired, "4011"},
		{"wrong key", "Bearer " + wrongKey, "4012"},
		{"wrong issuer", "Bearer " + wrongIssuer, "4012"},
	}
	for _, tc := range cases {
		w := doRequest(r, "/api/v1/me", tc.header)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d", tc.name, w.Code)
		}
		if code := errorCode(t, w); code != tc.code {
			t.Fatalf("%s: code = %s, want %s", tc.name, code, tc.code)
		}
	}
}

func TestAuthSkipsHealth(t *testing.T) {
	if w := doRequest(newAuthEngine(nil), "/health", ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestAuthDisabledUsesLocalUser(t *testing.T) {
	accounts := &fakeAccounts{}
	r := gin.New()
	r.Use(Auth(AuthConfig{LocalUserID: "dev"}, accounts))
	r.GET("/api/v1/me", func(c *gin.Context) { c.String(http.StatusOK, GetUserID(c)) })

	w := doRequest(r, "/api/v1/me", "")
	if w.Code != http.StatusOK || w.Body.String() != "dev" {
		t.Fatalf("status = %d body = %q", w.Code, w.Body.String())
	}
	if len(accounts.ensured) != 1 {
		t.Fatalf("local user must be provisioned, got %v", accounts.ensured)
	}
}

func TestAuthProvisioningFailure(t *testing.T) {
	r := newAuthEngine(&fakeAccounts{err: errors.New("db down")})
	token, _ := utils.NewJWTManager(testSecret, "articleforge", "").GenerateToken("user-1", "", "", time.Hour)

	w := doRequest(r, "/api/v1/me", "Bearer "+token)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if code := errorCode(t, w); code != "5000" {
		t.Fatalf("code = %s", code)
	}
}

func TestRateLimitPerUser(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	limiter := redisinfra.NewRateLimiter(redisinfra.Wrap(rdb))

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(ContextUserID, c.GetHeader("X-User"))
		c.Next()
	})
	r.Use(RateLimit(RateLimitConfig{Enabled: true, RequestsPerWindow: 2, Window: time.Minute}, limiter))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	call := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("X-User", user)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 2; i++ {
		if w := call("alice"); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, w.Code)
		}
	}
	w := call("alice")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("Retry-After missing")
	}
	if w := call("bob"); w.Code != http.StatusOK {
		t.Fatalf("other user limited: %d", w.Code)
	}
}
