package router

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"articleforge-api/internal/application/article"
	"articleforge-api/internal/application/credit"
	"articleforge-api/internal/application/generation"
	"articleforge-api/internal/application/publishing"
	"articleforge-api/internal/config"
	"articleforge-api/internal/domain/entity"
	"articleforge-api/internal/infrastructure/llm"
	"articleforge-api/internal/infrastructure/persistence/memory"
	"articleforge-api/internal/infrastructure/publishing/webflow"
	"articleforge-api/internal/interfaces/http/handler"
	"articleforge-api/internal/workflow/prompt"
	"articleforge-api/pkg/utils"
)

const testSecret = "router-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type chunks struct {
	items []string
	i     int
}

func (s *chunks) Recv() (string, error) {
	if s.i >= len(s.items) {
		return "", io.EOF
	}
	s.i++
	return s.items[s.i-1], nil
}

func (s *chunks) Close() {}

type stubLLM struct{}

func (stubLLM) Complete(context.Context, string, string, llm.Params) (string, error) {
	return "Alpha Title, Beta Title, Gamma Title", nil
}

func (stubLLM) Stream(context.Context, string, string, llm.Params) (llm.ChunkStream, error) {
	return &chunks{items: []string{"# Go\n\n", "## Intro\n\nHello ", "world."}}, nil
}

type stubSearcher struct{}

func (stubSearcher) Search(context.Context, string, int) ([]string, error) {
	return nil, nil
}

type stubPublisher struct{}

func (stubPublisher) Publish(_ context.Context, a *entity.Article, _ *entity.CMSConnection, _ string, _ map[string]string, _ webflow.PublishOptions) (*webflow.PublishResult, error) {
	return &webflow.PublishResult{ExternalID: "item-1", ExternalURL: "https://acme.webflow.io/blog/" + webflow.Slugify(a.Title)}, nil
}

func (stubPublisher) GetCollection(context.Context, string, string) (*webflow.Collection, error) {
	return &webflow.Collection{ID: "col1", Slug: "blog"}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := &config.Config{}
	cfg.App.Name = "articleforge-api"
	cfg.Security.JWT = config.JWTConfig{Enabled: true, Secret: testSecret}

	store := memory.NewStore()
	ledger := credit.NewLedger(store, store.Profiles(), store.CreditTransactions(), credit.Config{SignupBonus: 20})
	orch := generation.NewOrchestrator(prompt.NewBuilder(), stubLLM{}, stubSearcher{}, ledger, generation.NewRegistry(time.Hour), nil, generation.Options{
		Costs: config.CreditCosts{Titles: 1, Outline: 1, Article: 5, Research: 1, Keywords: 1, Audience: 1},
	})
	pub := publishing.NewService(store, store.Articles(), store.CMSConnections(), stubPublisher{}, nil)

	r := New(cfg, &Handlers{
		Health:        handler.NewHealthHandler("test", map[string]handler.HealthChecker{"redis": nil}),
		Generation:    handler.NewGenerationHandler(orch, 8),
		Article:       handler.NewArticleHandler(article.NewService(store, store.Articles()), pub),
		CMSConnection: handler.NewCMSConnectionHandler(pub),
		Credit:        handler.NewCreditHandler(ledger),
	}, ledger, nil)

	srv := httptest.NewServer(r.Engine())
	t.Cleanup(srv.Close)
	return srv
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := utils.NewJWTManager(testSecret, "", "").GenerateToken(userID, userID+"@example.com", "", time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return "Bearer " + token
}

func call(t *testing.T, srv *httptest.Server, method, path, auth, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp, out
}

func TestSystemEndpointsSkipAuth(t *testing.T) {
	srv := newTestServer(t)
	if resp, _ := call(t, srv, http.MethodGet, "/health", "", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("/health = %d", resp.StatusCode)
	}
	resp, body := call(t, srv, http.MethodGet, "/ready", "", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("/ready = %d %v", resp.StatusCode, body)
	}
	if resp, _ := call(t, srv, http.MethodGet, "/api/v1/articles", "", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated = %d", resp.StatusCode)
	}
}

func TestArticleLifecycle(t *testing.T) {
	srv := newTestServer(t)
	auth := bearer(t, "user-1")

	resp, body := call(t, srv, http.MethodPost, "/api/v1/articles", auth, `{"title":"Hello Go","content":"one two three","keywords":["go"]}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d %v", resp.StatusCode, body)
	}
	id := body["data"].(map[string]any)["id"].(string)

	resp, body = call(t, srv, http.MethodPatch, "/api/v1/articles/"+id, auth, `{"meta_description":"short"}`)
	if resp.StatusCode != http.StatusOK || body["data"].(map[string]any)["meta_description"] != "short" {
		t.Fatalf("patch = %d %v", resp.StatusCode, body)
	}

	if resp, _ := call(t, srv, http.MethodGet, "/api/v1/articles/"+id, bearer(t, "user-2"), ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign read = %d", resp.StatusCode)
	}

	resp, body = call(t, srv, http.MethodGet, "/api/v1/articles?page=1&page_size=10", auth, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list = %d", resp.StatusCode)
	}
	if meta := body["meta"].(map[string]any); meta["total"].(float64) != 1 {
		t.Fatalf("meta = %v", meta)
	}

	resp, body = call(t, srv, http.MethodPost, "/api/v1/cms-connections", auth, `{"name":"Blog","site_id":"site1","api_token":"tok","default_collection_id":"col1"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("connection = %d %v", resp.StatusCode, body)
	}
	connData := body["data"].(map[string]any)
	if _, leaked := connData["api_token"]; leaked {
		t.Fatalf("api token must not be returned")
	}

	resp, body = call(t, srv, http.MethodPost, "/api/v1/articles/"+id+"/publish", auth, `{"connection_id":"`+connData["id"].(string)+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("publish = %d %v", resp.StatusCode, body)
	}
	if url := body["data"].(map[string]any)["external_url"]; url != "https://acme.webflow.io/blog/hello-go" {
		t.Fatalf("external_url = %v", url)
	}

	if resp, _ := call(t, srv, http.MethodDelete, "/api/v1/articles/"+id, auth, ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete = %d", resp.StatusCode)
	}
}

func TestTitlesChargeCredits(t *testing.T) {
	srv := newTestServer(t)
	auth := bearer(t, "user-1")

	resp, body := call(t, srv, http.MethodPost, "/api/v1/generation/titles", auth, `{"topic":"Go","title_count":3}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("titles = %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get(handler.SessionIDHeader) == "" {
		t.Fatalf("missing session header")
	}
	if titles := body["data"].(map[string]any)["titles"].([]any); len(titles) != 3 {
		t.Fatalf("titles = %v", titles)
	}

	_, body = call(t, srv, http.MethodGet, "/api/v1/credits", auth, "")
	if credits := body["data"].(map[string]any)["credits"].(float64); credits != 19 {
		t.Fatalf("credits = %v, want 19", credits)
	}
	_, body = call(t, srv, http.MethodGet, "/api/v1/credits/transactions", auth, "")
	if meta := body["meta"].(map[string]any); meta["total"].(float64) < 1 {
		t.Fatalf("transactions meta = %v", meta)
	}
}

func TestEnhanceUnknownSessionFailsBeforeStream(t *testing.T) {
	srv := newTestServer(t)
	resp, body := call(t, srv, http.MethodPost, "/api/v1/generation/enhance/stream", bearer(t, "user-1"), `{"session_id":"missing"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d %v", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content type = %q", ct)
	}
}

func TestArticleStreamEndsWithComplete(t *testing.T) {
	srv := newTestServer(t)
	reqBody := `{"topic":"Go","title":"Go","outline":[{"id":"s1","title":"Intro","content":"hello"}]}`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/generation/article/stream", strings.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer(t, "user-1"))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Content-Type") != "text/event-stream" || resp.Header.Get(handler.SessionIDHeader) == "" {
		t.Fatalf("headers = %v", resp.Header)
	}

	var last map[string]any
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		last = nil
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &last); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
	}
	if last == nil || last["type"] != "complete" {
		t.Fatalf("last event = %v", last)
	}
	if !strings.Contains(last["content"].(string), "Hello world.") {
		t.Fatalf("content = %v", last["content"])
	}
}

func TestArticleStreamWithoutCreditsFailsBeforeStream(t *testing.T) {
	srv := newTestServer(t)
	auth := bearer(t, "user-1")
	for i := 0; i < 20; i++ {
		if resp, body := call(t, srv, http.MethodPost, "/api/v1/generation/keywords", auth, `{"topic":"Go"}`); resp.StatusCode != http.StatusOK {
			t.Fatalf("keywords #%d = %d %v", i, resp.StatusCode, body)
		}
	}

	resp, body := call(t, srv, http.MethodPost, "/api/v1/generation/article/stream", auth,
		`{"topic":"Go","title":"Go","outline":[{"id":"s1","title":"Intro"}]}`)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d %v", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content type = %q", ct)
	}
	if body["code"] != "4020" {
		t.Fatalf("body = %v", body)
	}
}
