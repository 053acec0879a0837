package shardsvc

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"shardkv/internal/shardstore"
	"shardkv/internal/wire"
)

// fakePublisher records every event handed to it and applies it to an
// attached store, standing in for the real bus.Publisher (which needs
// a live broker) the way migration_test.go's fakeShard stands in for a
// real shard over HTTP.
type fakePublisher struct {
	events []wire.Event
	store  *shardstore.Store
}

func (p *fakePublisher) Publish(_ context.Context, ev wire.Event) error {
	p.events = append(p.events, ev)
	if p.store != nil {
		p.store.Apply(ev)
	}
	return nil
}

func newLeaderService(t *testing.T) (*Service, *shardstore.Store, *fakePublisher) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := shardstore.New()
	pub := &fakePublisher{store: store}
	state := newRoleState("leader")
	svc := NewService(store, pub, state, "replica-a", true, 0, zap.NewNop())
	return svc, store, pub
}

func doJSON(t *testing.T, router *gin.Engine, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func newRouter(svc *Service) *gin.Engine {
	r := gin.New()
	svc.Register(r)
	return r
}

func TestCreateRecordOnLeaderPublishesAndStores(t *testing.T) {
	svc, store, pub := newLeaderService(t)
	router := newRouter(svc)

	rec := doJSON(t, router, http.MethodPost, "/records", `{"table_name":"t","pk":"p1","sk":"s1","value":{"n":1}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(pub.events) != 1 || pub.events[0].Op != wire.OpPut {
		t.Fatalf("expected one PUT event, got %+v", pub.events)
	}
	if !store.Exists("t", "p1", "s1") {
		t.Fatalf("expected record to be stored locally")
	}
}

func TestReadRecordNotFound(t *testing.T) {
	svc, _, _ := newLeaderService(t)
	router := newRouter(svc)

	rec := doJSON(t, router, http.MethodGet, "/records?table_name=t&pk=missing&sk=s1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestReadRecordFound(t *testing.T) {
	svc, store, _ := newLeaderService(t)
	router := newRouter(svc)

	val, _ := wire.NewValue(map[string]any{"n": 1})
	store.Put("t", "p1", "s1", val, 5, "replica-a")

	rec := doJSON(t, router, http.MethodGet, "/records?table_name=t&pk=p1&sk=s1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestDeleteRecordNeverExistedIs404(t *testing.T) {
	svc, _, pub := newLeaderService(t)
	router := newRouter(svc)

	rec := doJSON(t, router, http.MethodDelete, "/records?table_name=t&pk=ghost&sk=s1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	// A tombstone is still written even though the response is 404,
	// matching the original's delete() semantics.
	if len(pub.events) != 1 || pub.events[0].Op != wire.OpDelete {
		t.Fatalf("expected a DEL event to still be published, got %+v", pub.events)
	}
}

func TestDeleteRecordExistingReturnsPreviousValue(t *testing.T) {
	svc, store, _ := newLeaderService(t)
	router := newRouter(svc)

	val, _ := wire.NewValue(map[string]any{"n": 1})
	store.Put("t", "p1", "s1", val, 5, "replica-a")

	rec := doJSON(t, router, http.MethodDelete, "/records?table_name=t&pk=p1&sk=s1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if store.Exists("t", "p1", "s1") {
		t.Fatalf("expected record to be tombstoned")
	}
}

func TestMigratePutRejectedWhenNotLeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := shardstore.New()
	pub := &fakePublisher{store: store}
	state := newRoleState("follower")
	svc := NewService(store, pub, state, "replica-b", true, 0, zap.NewNop())
	router := newRouter(svc)

	rec := doJSON(t, router, http.MethodPost, "/internal/migrate-put", `{"items":[]}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestMigratePutPreservesVersionAndOrigin(t *testing.T) {
	svc, store, pub := newLeaderService(t)
	router := newRouter(svc)

	body := `{"items":[{"table_name":"t","pk":"p1","sk":"s1","value":{"n":9},"version":42,"origin":"far-away"}]}`
	rec := doJSON(t, router, http.MethodPost, "/internal/migrate-put", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(pub.events) != 1 || pub.events[0].Version != 42 || pub.events[0].Origin != "far-away" {
		t.Fatalf("expected the item's own version/origin to be preserved, got %+v", pub.events)
	}
	_, version, origin, ok := store.GetWithVersion("t", "p1", "s1")
	if !ok || version != 42 || origin != "far-away" {
		t.Fatalf("store did not retain migrated stamp: version=%d origin=%s ok=%v", version, origin, ok)
	}
}

func TestInternalKeysExcludesTombstones(t *testing.T) {
	svc, store, _ := newLeaderService(t)
	router := newRouter(svc)

	val, _ := wire.NewValue(map[string]any{"n": 1})
	store.Put("t", "alive", "s", val, 1, "a")
	store.Put("t", "gone", "s", val, 1, "a")
	store.Delete("t", "gone", "s", 2, "a")

	rec := doJSON(t, router, http.MethodGet, "/internal/keys?table_name=t", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "alive") || strings.Contains(rec.Body.String(), `"gone"`) {
		t.Fatalf("expected only the live key in the dump, got %s", rec.Body.String())
	}
}

func TestFollowerRedirectsWhenProxyWritesDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := shardstore.New()
	pub := &fakePublisher{store: store}
	state := newRoleState("follower")
	state.set("follower", "http://leader.example")
	svc := NewService(store, pub, state, "replica-b", false, 0, zap.NewNop())
	router := newRouter(svc)

	rec := doJSON(t, router, http.MethodPost, "/records", `{"table_name":"t","pk":"p1","sk":"s1","value":{}}`)
	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "http://leader.example/records" {
		t.Fatalf("Location = %q", loc)
	}
}

func TestFollowerProxiesWriteToLeader(t *testing.T) {
	var gotBody string
	leader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"table_name":"t","pk":"p1","sk":"s1","value":{"n":1},"version":7}`))
	}))
	defer leader.Close()

	gin.SetMode(gin.TestMode)
	store := shardstore.New()
	pub := &fakePublisher{store: store}
	state := newRoleState("follower")
	state.set("follower", leader.URL)
	svc := NewService(store, pub, state, "replica-b", true, 0, zap.NewNop())
	router := newRouter(svc)

	rec := doJSON(t, router, http.MethodPost, "/records", `{"table_name":"t","pk":"p1","sk":"s1","value":{"n":1}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(gotBody, "p1") {
		t.Fatalf("expected the request body to be forwarded to the leader, got %q", gotBody)
	}
}

func TestHealthReportsRoleAndLeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := shardstore.New()
	pub := &fakePublisher{store: store}
	state := newRoleState("auto")
	state.set("leader", "")
	svc := NewService(store, pub, state, "replica-a", true, 0, zap.NewNop())
	router := newRouter(svc)

	rec := doJSON(t, router, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"role":"leader"`) {
		t.Fatalf("expected role in body, got %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"leader_url":null`) {
		t.Fatalf("expected null leader_url in body, got %s", rec.Body.String())
	}
}
