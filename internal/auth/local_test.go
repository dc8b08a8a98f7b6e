package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/careerguide/internal/apiclient"
	"github.com/ashureev/careerguide/internal/credential"
	"github.com/ashureev/careerguide/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI emulates the career API user endpoints.
func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	users := map[string]string{"ada@example.com": "secret"}

	mux := http.NewServeMux()
	mux.HandleFunc("/users/login", func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if r.Header.Get("Authorization") != "" {
			t.Error("login must be sent without a credential")
		}
		if pw, ok := users[req.Email]; !ok || pw != req.Password {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Invalid email or password"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-" + req.Email,
			"token_type":   "bearer",
			"user":         map[string]any{"id": 1, "email": req.Email, "full_name": "Ada"},
		})
	})
	mux.HandleFunc("/users/register", func(w http.ResponseWriter, r *http.Request) {
		var reg domain.Registration
		_ = json.NewDecoder(r.Body).Decode(&reg)
		if _, exists := users[reg.Email]; exists {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"detail":"User with this email already exists"}`))
			return
		}
		if reg.Password == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"detail":"password is required"}`))
			return
		}
		users[reg.Email] = reg.Password
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 2, "email": reg.Email, "full_name": reg.FullName})
	})
	mux.HandleFunc("/users/profile", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-ada@example.com" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Invalid token"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":1,"email":"ada@example.com","full_name":"Ada","industry":"tech"}`))
	})
	mux.HandleFunc("/users/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newLocal(t *testing.T, baseURL string) (*Local, *credential.Store) {
	t.Helper()
	store, err := credential.New(context.Background(), credential.NewMemoryBackend())
	require.NoError(t, err)
	return NewLocal(apiclient.New(baseURL, store), nil), store
}

func TestLocalLogin(t *testing.T) {
	srv := fakeAPI(t)
	l, _ := newLocal(t, srv.URL)

	sess, err := l.Login(context.Background(), " ada@example.com ", "secret")
	require.NoError(t, err)
	assert.Equal(t, "tok-ada@example.com", sess.Token)
	assert.Equal(t, "1", sess.Identity.ID)
	assert.Equal(t, "Ada", sess.Identity.DisplayName)
}

func TestLocalLoginInvalidCredentials(t *testing.T) {
	srv := fakeAPI(t)
	l, store := newLocal(t, srv.URL)
	require.NoError(t, store.Set("existing"))

	_, err := l.Login(context.Background(), "ada@example.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, "Invalid email or password.", Message(err))

	got, ok := store.Get()
	assert.True(t, ok, "a failed login must not clear the current credential")
	assert.Equal(t, "existing", got)
}

func TestLocalRegisterReturnsUsableSession(t *testing.T) {
	srv := fakeAPI(t)
	l, _ := newLocal(t, srv.URL)

	sess, err := l.Register(context.Background(), domain.Registration{
		Email: "grace@example.com", Password: "pw", FullName: "Grace",
	})
	require.NoError(t, err)
	assert.Equal(t, "tok-grace@example.com", sess.Token)
}

func TestLocalRegisterAlreadyRegistered(t *testing.T) {
	srv := fakeAPI(t)
	l, _ := newLocal(t, srv.URL)

	_, err := l.Register(context.Background(), domain.Registration{Email: "ada@example.com", Password: "x"})
	require.ErrorIs(t, err, ErrAlreadyRegistered)
	assert.Equal(t, "Email is already in use. Please try logging in instead.", Message(err))
}

func TestLocalRegisterValidationReason(t *testing.T) {
	srv := fakeAPI(t)
	l, _ := newLocal(t, srv.URL)

	_, err := l.Register(context.Background(), domain.Registration{Email: "new@example.com"})
	require.ErrorIs(t, err, ErrProviderRejected)
	assert.Equal(t, "password is required", Message(err))
}

func TestLocalNetworkUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	l, _ := newLocal(t, url)

	_, err := l.Login(context.Background(), "a@b.c", "pw")
	require.ErrorIs(t, err, ErrNetworkUnavailable)
	assert.Equal(t, "Network error. Please check your connection.", Message(err))

	_, err = l.Register(context.Background(), domain.Registration{Email: "a@b.c", Password: "pw"})
	require.ErrorIs(t, err, ErrNetworkUnavailable)
	assert.Equal(t, "Network issue. Try again later.", Message(err))
}

func TestLocalResolve(t *testing.T) {
	srv := fakeAPI(t)
	l, store := newLocal(t, srv.URL)

	id, err := l.Resolve(context.Background(), "tok-ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", id.Email)
	assert.Equal(t, "tech", id.Profile["industry"])

	require.NoError(t, store.Set("bogus"))
	_, err = l.Resolve(context.Background(), "bogus")
	require.Error(t, err)

	_, ok := store.Get()
	assert.True(t, ok, "resolve leaves credential handling to the caller")
}

func TestLocalSubscribeIsNoop(t *testing.T) {
	l := NewLocal(nil, nil)
	called := false
	unsubscribe := l.SubscribeIdentityChanges(func(*domain.Identity) { called = true })
	unsubscribe()
	assert.False(t, called)

	_, ok := CanRenew(l)
	assert.False(t, ok)
}
