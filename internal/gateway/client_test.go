package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cyverse/cloudgw/internal/cache"
	"github.com/cyverse/cloudgw/internal/model"
	"github.com/cyverse/cloudgw/internal/token"
	"github.com/google/go-cmp/cmp"
)

var testPrincipal = model.Principal{ID: "u1", Email: "u1@example.org", Role: model.RoleClient}

// fakeUpstream counts requests per method and path and delegates them to a handler.
type fakeUpstream struct {
	mu      sync.Mutex
	hits    map[string]int
	handler http.HandlerFunc
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hits[r.Method+" "+r.URL.Path]++
	f.mu.Unlock()
	f.handler(w, r)
}

func (f *fakeUpstream) count(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[route]
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type testEnv struct {
	client   *Client
	upstream *fakeUpstream
	minter   *token.Minter
	cache    *cache.MemoryCache
}

func newTestEnv(t *testing.T, handler http.HandlerFunc, mutate func(*Settings)) *testEnv {
	t.Helper()

	upstream := &fakeUpstream{hits: make(map[string]int), handler: handler}
	server := httptest.NewServer(upstream)
	t.Cleanup(server.Close)

	minter, err := token.NewMinter("s3cret", "cloudgw", time.Hour, nil)
	if err != nil {
		t.Fatalf("unable to create the minter: %s", err)
	}
	c := cache.NewMemoryCache(nil)

	settings := Settings{
		BaseURL:       server.URL + "/api",
		Timeout:       time.Second,
		Retries:       3,
		RetryInterval: time.Millisecond,
		ListTTL:       time.Minute,
		GetTTL:        30 * time.Second,
		CatalogTTL:    time.Hour,
		MetricsTTL:    30 * time.Second,
	}
	if mutate != nil {
		mutate(&settings)
	}

	client, err := New(settings, minter, c)
	if err != nil {
		t.Fatalf("unable to create the client: %s", err)
	}
	return &testEnv{client: client, upstream: upstream, minter: minter, cache: c}
}

func TestNewValidatesSettings(t *testing.T) {
	minter, _ := token.NewMinter("s3cret", "cloudgw", time.Hour, nil)
	tests := map[string]Settings{
		"relative url":      {BaseURL: "/api", RetryInterval: time.Second},
		"negative retries":  {BaseURL: "http://gw", Retries: -1, RetryInterval: time.Second},
		"no retry interval": {BaseURL: "http://gw"},
	}
	for name, s := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := New(s, minter, nil); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestCreateRetriesTransientFailures(t *testing.T) {
	var calls int32
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 3 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "try again"})
			return
		}
		writeJSON(w, http.StatusCreated, Server{ID: 42, Name: "web-1", Status: "initializing"})
	}, nil)

	server, err := env.client.CreateServer(context.Background(), testPrincipal, &CreateServerRequest{Name: "web-1"})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if server.ID != 42 {
		t.Errorf("unexpected server ID: %d", server.ID)
	}
	if n := env.upstream.count("POST /api/servers"); n != 4 {
		t.Errorf("got %d attempts, want 4 (one call and exactly 3 retries)", n)
	}
}

func TestRetriesAreCapped(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadGateway, map[string]string{"detail": "upstream down"})
	}, nil)

	_, err := env.client.ListServers(context.Background(), testPrincipal)
	if !IsTransient(err) {
		t.Fatalf("expected a transient error, got %v", err)
	}
	gerr, _ := AsGatewayError(err)
	if gerr.Status != http.StatusBadGateway || gerr.Message != "upstream down" {
		t.Errorf("unexpected error details: %+v", gerr)
	}
	if n := env.upstream.count("GET /api/servers"); n != 4 {
		t.Errorf("got %d attempts, want 4", n)
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	tests := map[string]struct {
		status     int
		body       interface{}
		validation bool
		notFound   bool
		message    string
	}{
		"unprocessable": {http.StatusUnprocessableEntity, map[string]string{"detail": "bad name"}, true, false, "bad name"},
		"not found":     {http.StatusNotFound, map[string]string{"detail": "no such server"}, true, true, "no such server"},
		"forbidden":     {http.StatusForbidden, map[string]string{}, true, false, "Forbidden"},
		"object detail": {http.StatusBadRequest, map[string]interface{}{"detail": map[string]string{"field": "name"}}, true, false, `{"field":"name"}`},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tc.status, tc.body)
			}, nil)

			_, err := env.client.GetServer(context.Background(), testPrincipal, 7)
			if IsTransient(err) {
				t.Errorf("expected a non-transient error, got %v", err)
			}
			if IsValidation(err) != tc.validation {
				t.Errorf("IsValidation: got %t, want %t", IsValidation(err), tc.validation)
			}
			if IsNotFound(err) != tc.notFound {
				t.Errorf("IsNotFound: got %t, want %t", IsNotFound(err), tc.notFound)
			}
			if gerr, ok := AsGatewayError(err); !ok || gerr.Message != tc.message {
				t.Errorf("unexpected error: %v", err)
			}
			if n := env.upstream.count("GET /api/servers/7"); n != 1 {
				t.Errorf("got %d attempts, want 1", n)
			}
		})
	}
}

func TestTooManyRequestsIsTransient(t *testing.T) {
	var calls int32
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, http.StatusOK, ServerList{Servers: []Server{{ID: 1}}, Count: 1})
	}, nil)

	servers, err := env.client.ListServers(context.Background(), testPrincipal)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(servers) != 1 {
		t.Errorf("got %d servers, want 1", len(servers))
	}
}

func TestUndecodableResponsesAreNotRetried(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>not json</html>"))
	}, nil)

	_, err := env.client.ListServers(context.Background(), testPrincipal)
	if err == nil {
		t.Fatal("expected an error")
	}
	if IsTransient(err) || IsValidation(err) {
		t.Errorf("unexpected error classification: %v", err)
	}
	if n := env.upstream.count("GET /api/servers"); n != 1 {
		t.Errorf("got %d attempts, want 1", n)
	}
	if _, ok := env.cache.Get(cache.ListKey(testPrincipal.ID)); ok {
		t.Error("an undecodable response was cached")
	}
}

func TestAttemptTimeout(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, func(s *Settings) {
		s.Timeout = 20 * time.Millisecond
		s.Retries = 1
	})

	_, err := env.client.GetServer(context.Background(), testPrincipal, 1)
	if !IsTransient(err) {
		t.Fatalf("expected a transient error, got %v", err)
	}
	if n := env.upstream.count("GET /api/servers/1"); n != 2 {
		t.Errorf("got %d attempts, want 2", n)
	}
}

func TestCallerCancellationStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		cancel()
		<-r.Context().Done()
	}, nil)

	_, err := env.client.GetServer(ctx, testPrincipal, 1)
	if err == nil {
		t.Fatal("expected an error")
	}
	if n := env.upstream.count("GET /api/servers/1"); n != 1 {
		t.Errorf("got %d attempts, want 1", n)
	}
}

func TestBearerToken(t *testing.T) {
	var header string
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, []Location{{Name: "fsn1"}})
	}, nil)

	if _, err := env.client.Locations(context.Background(), testPrincipal); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	claims, err := env.minter.Verify(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		t.Fatalf("invalid bearer token %q: %s", header, err)
	}
	if claims.UserID != testPrincipal.ID {
		t.Errorf("unexpected user ID: %s", claims.UserID)
	}
}

func TestReadsAreCached(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/servers":
			writeJSON(w, http.StatusOK, ServerList{Servers: []Server{{ID: 1, Name: "a"}}, Count: 1})
		case "/api/server-types":
			writeJSON(w, http.StatusOK, []ServerType{{Name: "cx21", Prices: []Price{{Location: "fsn1", PriceHourly: 0.01}}}})
		}
	}, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		servers, err := env.client.ListServers(ctx, testPrincipal)
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		if diff := cmp.Diff([]Server{{ID: 1, Name: "a"}}, servers); diff != "" {
			t.Errorf("unexpected servers (-want +got):\n%s", diff)
		}
		if _, err := env.client.ServerTypes(ctx, testPrincipal); err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
	}

	if n := env.upstream.count("GET /api/servers"); n != 1 {
		t.Errorf("got %d list calls, want 1", n)
	}
	if n := env.upstream.count("GET /api/server-types"); n != 1 {
		t.Errorf("got %d catalog calls, want 1", n)
	}

	// Another principal has its own list entry.
	other := model.Principal{ID: "u2", Role: model.RoleClient}
	if _, err := env.client.ListServers(ctx, other); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if n := env.upstream.count("GET /api/servers"); n != 2 {
		t.Errorf("got %d list calls, want 2", n)
	}
}

func TestMutationInvalidatesResourceAndListKeys(t *testing.T) {
	var mu sync.Mutex
	status := "running"
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/servers/5/power":
			var req PowerRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			status = "off"
			writeJSON(w, http.StatusOK, PowerResponse{ServerID: 5, Action: req.Action, Status: "success"})
		case r.URL.Path == "/api/servers/5":
			writeJSON(w, http.StatusOK, Server{ID: 5, Status: status})
		case r.URL.Path == "/api/servers":
			writeJSON(w, http.StatusOK, ServerList{Servers: []Server{{ID: 5, Status: status}}, Count: 1})
		}
	}, nil)

	ctx := context.Background()
	if _, err := env.client.ListServers(ctx, testPrincipal); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if _, err := env.client.GetServer(ctx, testPrincipal, 5); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	resp, err := env.client.Power(ctx, testPrincipal, 5, "stop", false)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if resp.Action != "stop" {
		t.Errorf("unexpected action: %s", resp.Action)
	}

	if _, ok := env.cache.Get(cache.ListKey(testPrincipal.ID)); ok {
		t.Error("the list key survived the mutation")
	}
	if _, ok := env.cache.Get(cache.GetKey(testPrincipal.ID, "5")); ok {
		t.Error("the resource key survived the mutation")
	}

	servers, err := env.client.ListServers(ctx, testPrincipal)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if servers[0].Status != "off" {
		t.Errorf("list returned stale status %s", servers[0].Status)
	}
	server, err := env.client.GetServer(ctx, testPrincipal, 5)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if server.Status != "off" {
		t.Errorf("get returned stale status %s", server.Status)
	}
}

func TestFailedMutationKeepsCache(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			writeJSON(w, http.StatusConflict, map[string]string{"detail": "protected"})
			return
		}
		writeJSON(w, http.StatusOK, ServerList{Servers: []Server{{ID: 9}}})
	}, nil)

	ctx := context.Background()
	if _, err := env.client.ListServers(ctx, testPrincipal); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := env.client.DeleteServer(ctx, testPrincipal, 9); !IsValidation(err) {
		t.Fatalf("expected a validation error, got %v", err)
	}
	if _, ok := env.cache.Get(cache.ListKey(testPrincipal.ID)); !ok {
		t.Error("a failed mutation invalidated the cache")
	}
}

func TestCorruptCacheEntryFallsBackToUpstream(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ServerList{Servers: []Server{{ID: 3}}})
	}, nil)

	if err := env.cache.Put(cache.ListKey(testPrincipal.ID), []byte("{broken"), time.Minute); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	servers, err := env.client.ListServers(context.Background(), testPrincipal)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(servers) != 1 || servers[0].ID != 3 {
		t.Errorf("unexpected servers: %+v", servers)
	}
}
