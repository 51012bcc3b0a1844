package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeScheduler is a minimal remote scheduler with unique trigger names.
type fakeScheduler struct {
	mu     sync.Mutex
	byName map[string]string
	byID   map[string]createBody
	seq    int
	failOn string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{byName: map[string]string{}, byID: map[string]createBody{}}
}

func (f *fakeScheduler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.Header.Get("Authorization") != "Bearer tok" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/triggers":
		var b createBody
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if f.failOn != "" && strings.Contains(b.Name, f.failOn) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"message":"upstream down"}`))
			return
		}
		if id, ok := f.byName[b.Name]; ok {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(idBody{ID: id})
			return
		}
		f.seq++
		id := "r" + string(rune('0'+f.seq))
		f.byName[b.Name] = id
		f.byID[id] = b
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(idBody{ID: id})
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/triggers/"):
		id := strings.TrimPrefix(r.URL.Path, "/triggers/")
		b, ok := f.byID[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(f.byID, id)
		delete(f.byName, b.Name)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestHTTPClientCreateConflictDelete(t *testing.T) {
	t.Parallel()
	fs := newFakeScheduler()
	srv := httptest.NewServer(fs)
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL + "/", Token: "tok", Endpoint: "https://deliver.example/sms"}, srv.Client())
	ctx := context.Background()
	at := time.Date(2025, 6, 9, 15, 0, 0, 0, time.UTC)

	h, err := c.Create(ctx, "TASK-REMINDER-ONE_DAY-t1", "desc", at, Payload{Contact: "+1", Message: "hi"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	fs.mu.Lock()
	got := fs.byID[string(h)]
	fs.mu.Unlock()
	if got.Endpoint != "https://deliver.example/sms" || !got.FireAt.Equal(at) || got.Payload.Message != "hi" {
		t.Fatalf("server saw %+v", got)
	}

	_, err = c.Create(ctx, "TASK-REMINDER-ONE_DAY-t1", "desc", at, Payload{})
	var ce *ConflictError
	if !errors.As(err, &ce) || ce.Existing != h {
		t.Fatalf("expected conflict with existing %q, got %v", h, err)
	}

	if err := c.Delete(ctx, h); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := c.Delete(ctx, h); err != nil {
		t.Fatalf("Delete of absent handle should succeed: %v", err)
	}
}

func TestHTTPClientExternalErrors(t *testing.T) {
	t.Parallel()
	fs := newFakeScheduler()
	fs.failOn = "ONE_WEEK"
	srv := httptest.NewServer(fs)
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL, Token: "tok"}, srv.Client())
	_, err := c.Create(context.Background(), "TASK-REMINDER-ONE_WEEK-t1", "", time.Now(), Payload{})
	if !IsExternal(err) || IsConflict(err) {
		t.Fatalf("expected external error, got %v", err)
	}
	var ee *ExternalError
	if !errors.As(err, &ee) || ee.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d", ee.StatusCode)
	}

	bad := NewHTTPClient(HTTPConfig{BaseURL: srv.URL, Token: "wrong"}, srv.Client())
	if err := bad.Delete(context.Background(), "r1"); !IsExternal(err) {
		t.Fatalf("expected external error on 401, got %v", err)
	}

	srv.Close()
	if _, err := c.Create(context.Background(), "x", "", time.Now(), Payload{}); !IsExternal(err) {
		t.Fatalf("expected transport error to be external, got %v", err)
	}
}
