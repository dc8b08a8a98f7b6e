package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/careerguide/internal/credential"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, token string) *credential.Store {
	t.Helper()
	s, err := credential.New(context.Background(), credential.NewMemoryBackend())
	require.NoError(t, err)
	if token != "" {
		require.NoError(t, s.Set(token))
	}
	return s
}

type renewerFunc func(ctx context.Context) (string, error)

func (f renewerFunc) Renew(ctx context.Context) (string, error) { return f(ctx) }

// tokenServer answers 200 {"ok":true} when the bearer equals valid and 401
// otherwise. It records every Authorization header it sees.
type tokenServer struct {
	*httptest.Server
	mu      sync.Mutex
	valid   string
	headers []string
}

func newTokenServer(t *testing.T, valid string) *tokenServer {
	ts := &tokenServer{valid: valid}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.headers = append(ts.headers, r.Header.Get("Authorization"))
		valid := ts.valid
		ts.mu.Unlock()

		if r.Header.Get(RequestIDHeader) == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+valid {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Token expired"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) seen() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]string(nil), ts.headers...)
}

func TestDoAttachesBearer(t *testing.T) {
	t.Parallel()
	srv := newTokenServer(t, "good")
	c := New(srv.URL, newStore(t, "good"))

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, c.JSON(context.Background(), http.MethodGet, "/thing", nil, &out))
	assert.True(t, out.OK)
	assert.Equal(t, []string{"Bearer good"}, srv.seen())
}

func TestDoWithoutCredentialSendsNoHeader(t *testing.T) {
	t.Parallel()
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, newStore(t, ""))
	_, err := c.Do(context.Background(), http.MethodGet, "/health", nil)
	require.NoError(t, err)
	assert.Empty(t, <-got)
}

func TestUnauthorizedWithoutRenewerEndsSession(t *testing.T) {
	t.Parallel()
	srv := newTokenServer(t, "never")
	store := newStore(t, "stale")
	c := New(srv.URL, store)

	var ended atomic.Int32
	c.OnSessionEnded(func(error) { ended.Add(1) })

	_, err := c.Do(context.Background(), http.MethodGet, "/users/profile", nil)
	require.ErrorIs(t, err, ErrSessionExpired)

	_, ok := store.Get()
	assert.False(t, ok, "credential must be cleared")
	assert.Equal(t, int32(1), ended.Load())
	assert.Len(t, srv.seen(), 1, "no re-dispatch without renewal")
}

func TestUnauthorizedRenewsAndRetriesOnce(t *testing.T) {
	t.Parallel()
	srv := newTokenServer(t, "fresh")
	store := newStore(t, "stale")

	var renewals atomic.Int32
	c := New(srv.URL, store, WithRenewer(renewerFunc(func(context.Context) (string, error) {
		renewals.Add(1)
		return "fresh", nil
	})))

	resp, err := c.Do(context.Background(), http.MethodGet, "/assessments", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)

	assert.Equal(t, int32(1), renewals.Load())
	assert.Equal(t, []string{"Bearer stale", "Bearer fresh"}, srv.seen())

	got, _ := store.Get()
	assert.Equal(t, "fresh", got)
}

func TestSecondUnauthorizedIsSurfacedNotRetried(t *testing.T) {
	t.Parallel()
	srv := newTokenServer(t, "nothing-works")
	store := newStore(t, "stale")

	var renewals atomic.Int32
	c := New(srv.URL, store, WithRenewer(renewerFunc(func(context.Context) (string, error) {
		renewals.Add(1)
		return "renewed-but-still-rejected", nil
	})))

	var ended atomic.Int32
	c.OnSessionEnded(func(error) { ended.Add(1) })

	_, err := c.Do(context.Background(), http.MethodGet, "/assessments", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, ErrSessionExpired)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Token expired", apiErr.Message)

	assert.Equal(t, int32(1), renewals.Load())
	assert.Len(t, srv.seen(), 2, "exactly one re-dispatch")
	assert.Zero(t, ended.Load())
}

func TestRenewalFailureEndsSession(t *testing.T) {
	t.Parallel()
	srv := newTokenServer(t, "fresh")
	store := newStore(t, "stale")
	c := New(srv.URL, store, WithRenewer(renewerFunc(func(context.Context) (string, error) {
		return "", errors.New("refresh token revoked")
	})))

	var cause error
	c.OnSessionEnded(func(err error) { cause = err })

	_, err := c.Do(context.Background(), http.MethodGet, "/x", nil)
	require.ErrorIs(t, err, ErrSessionExpired)
	require.Error(t, cause)
	assert.Contains(t, cause.Error(), "revoked")

	_, ok := store.Get()
	assert.False(t, ok)
}

func TestNonAuthErrorsAreNotRetried(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	store := newStore(t, "tok")
	c := New(srv.URL, store, WithRenewer(renewerFunc(func(context.Context) (string, error) {
		t.Error("renewer must not be called for non-auth failures")
		return "", nil
	})))

	_, err := c.Do(context.Background(), http.MethodPost, "/skills/evaluate", json.RawMessage(`{}`))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "boom", apiErr.Message)
	assert.Equal(t, int32(1), hits.Load())

	got, ok := store.Get()
	assert.True(t, ok)
	assert.Equal(t, "tok", got)
}

func TestPublicRequestSkipsRecovery(t *testing.T) {
	t.Parallel()
	srv := newTokenServer(t, "whatever")
	store := newStore(t, "tok")
	c := New(srv.URL, store)

	_, err := c.Do(Public(context.Background()), http.MethodPost, "/users/login", map[string]string{"email": "a"})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, []string{""}, srv.seen())

	_, ok := store.Get()
	assert.True(t, ok, "public failures never touch the credential")
}

func TestConcurrentUnauthorizedShareOneRenewal(t *testing.T) {
	t.Parallel()
	srv := newTokenServer(t, "fresh")
	store := newStore(t, "stale")

	var renewals atomic.Int32
	release := make(chan struct{})
	c := New(srv.URL, store, WithRenewer(renewerFunc(func(context.Context) (string, error) {
		renewals.Add(1)
		<-release
		return "fresh", nil
	})))

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Do(context.Background(), http.MethodGet, "/recommendations", nil)
			errs <- err
		}()
	}

	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), renewals.Load())
}

func TestCallerCancelDuringRenewalKeepsSession(t *testing.T) {
	t.Parallel()
	srv := newTokenServer(t, "fresh")
	store := newStore(t, "stale")

	entered := make(chan struct{})
	release := make(chan struct{})
	var renewCtxErr atomic.Value
	c := New(srv.URL, store, WithRenewer(renewerFunc(func(ctx context.Context) (string, error) {
		close(entered)
		<-release
		if err := ctx.Err(); err != nil {
			renewCtxErr.Store(err)
		}
		return "fresh", nil
	})))

	var ended atomic.Int32
	c.OnSessionEnded(func(error) { ended.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Do(ctx, http.MethodGet, "/assessments", nil)
		done <- err
	}()

	<-entered
	cancel()
	err := <-done
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrSessionExpired)

	got, ok := store.Get()
	require.True(t, ok, "credential must survive a cancelled caller")
	assert.Equal(t, "stale", got)
	assert.Zero(t, ended.Load())

	// The renewal itself carries on and lands in the store.
	close(release)
	assert.Eventually(t, func() bool {
		got, _ := store.Get()
		return got == "fresh"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Nil(t, renewCtxErr.Load())
	assert.Zero(t, ended.Load())
}

func TestSharedRenewalSurvivesOneCallerCancelling(t *testing.T) {
	t.Parallel()
	srv := newTokenServer(t, "fresh")
	store := newStore(t, "stale")

	var renewals atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	c := New(srv.URL, store, WithRenewer(renewerFunc(func(ctx context.Context) (string, error) {
		if renewals.Add(1) == 1 {
			close(entered)
		}
		<-release
		return "fresh", ctx.Err()
	})))

	var ended atomic.Int32
	c.OnSessionEnded(func(error) { ended.Add(1) })

	quitting, cancel := context.WithCancel(context.Background())
	quitDone := make(chan error, 1)
	go func() {
		_, err := c.Do(quitting, http.MethodGet, "/assessments", nil)
		quitDone <- err
	}()
	<-entered

	liveDone := make(chan error, 1)
	go func() {
		_, err := c.Do(context.Background(), http.MethodGet, "/recommendations", nil)
		liveDone <- err
	}()

	cancel()
	require.ErrorIs(t, <-quitDone, context.Canceled)

	close(release)
	require.NoError(t, <-liveDone)

	assert.Equal(t, int32(1), renewals.Load())
	assert.Zero(t, ended.Load())
	got, _ := store.Get()
	assert.Equal(t, "fresh", got)
}

func TestAnonymousUnauthorizedUsesCredentialStoredMeanwhile(t *testing.T) {
	t.Parallel()
	store := newStore(t, "")

	var seen []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		mu.Lock()
		seen = append(seen, auth)
		mu.Unlock()
		if auth != "Bearer from-login" {
			// A login completes while this request is in flight.
			_ = store.Set("from-login")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Not authenticated"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, store, WithRenewer(renewerFunc(func(context.Context) (string, error) {
		t.Error("a credential that arrived meanwhile must be used without renewing")
		return "", nil
	})))
	var ended atomic.Int32
	c.OnSessionEnded(func(error) { ended.Add(1) })

	resp, err := c.Do(context.Background(), http.MethodGet, "/users/profile", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Zero(t, ended.Load())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"", "Bearer from-login"}, seen)

	got, ok := store.Get()
	require.True(t, ok)
	assert.Equal(t, "from-login", got)
}

func TestTransportErrorIsUnreachable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, newStore(t, "tok"))
	_, err := c.Do(context.Background(), http.MethodGet, "/health", nil)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.NotErrorIs(t, err, ErrSessionExpired)
}

func TestRecordHelpersPassThrough(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "GET /recommendations/42":
			_, _ = w.Write([]byte(`{"id":42,"rationale":"fits"}`))
		case "POST /assessments":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"echo": body["assessment_type"]})
		case "GET /users/profile":
			_, _ = w.Write([]byte(`{"id": 3, "email": "p@example.com", "full_name": "P"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, newStore(t, "tok"))
	ctx := context.Background()

	rec, err := c.GetRecommendation(ctx, "42")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":42,"rationale":"fits"}`, string(rec))

	created, err := c.CreateAssessment(ctx, json.RawMessage(`{"assessment_type":"aptitude"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":"aptitude"}`, string(created))

	id, err := c.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "3", id.ID)
	assert.Equal(t, "P", id.Name())

	_, err = c.ListSkillEvaluations(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}
