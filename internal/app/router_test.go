package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitrin/marketplace/internal/auth"
	"github.com/vitrin/marketplace/internal/categories"
	"github.com/vitrin/marketplace/internal/listings"
	"github.com/vitrin/marketplace/internal/observability"
	"github.com/vitrin/marketplace/internal/shared"
	"github.com/vitrin/marketplace/internal/storage"
	"github.com/vitrin/marketplace/internal/view"
)

type noUsers struct{}

func (noUsers) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return nil, shared.ErrNotFound
}

func (noUsers) CreateSession(ctx context.Context, id, userID string, expiresAt time.Time, ip, ua string) error {
	return nil
}

func (noUsers) DeleteSession(ctx context.Context, id string) error { return nil }

type noListings struct{}

func (noListings) Insert(ctx context.Context, l listings.Listing) (*listings.Listing, error) {
	return &l, nil
}

func (noListings) Update(ctx context.Context, l listings.Listing) (*listings.Listing, error) {
	return &l, nil
}

func (noListings) Get(ctx context.Context, id string) (*listings.Listing, error) {
	return nil, listings.ErrNotFound
}

func (noListings) ListByOwner(ctx context.Context, userID string, limit int) ([]listings.Listing, error) {
	return nil, nil
}

type oneCategory struct{}

func (oneCategory) ListActive(ctx context.Context) []categories.Category {
	return []categories.Category{{ID: "cat-games", Name: "Oyun Hesapları", Active: true}}
}

func (oneCategory) IsActive(ctx context.Context, id string) bool { return id == "cat-games" }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := &Config{AppEnv: "test", RateLimitPerMinute: 1000, ListingMaxImageBytes: 1 << 20}

	sessions := shared.NewSessionManager(client, "vitrin_session", time.Hour, false)
	csrf := shared.NewCSRFManager("csrf-secret")
	templates, err := view.NewEngine()
	require.NoError(t, err)

	service := listings.NewService(noListings{}, storage.NewMemory("https://cdn.test"), oneCategory{}, listings.ServiceConfig{MaxImageLen: cfg.ListingMaxImageBytes}, nil)
	return NewRouter(RouterParams{
		Config:          cfg,
		SessionManager:  sessions,
		CSRFManager:     csrf,
		AuthHandler:     auth.NewHandler(nil, auth.NewService(noUsers{}), templates, sessions, csrf),
		ListingsHandler: listings.NewHandler(nil, service, listings.NewRedisDraftStore(client, time.Minute), oneCategory{}, templates, csrf),
		Metrics:         observability.NewMetrics(),
	})
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"status":"ok"}`, res.Body.String())
}

func TestListingFormRequiresLogin(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/listings/new", "/dashboard/", "/"} {
		res := httptest.NewRecorder()
		router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusSeeOther, res.Code, path)
	}

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/listings/new", nil))
	assert.Equal(t, "/auth/login", res.Header().Get("Location"))
	assert.NotEmpty(t, res.Result().Cookies(), "session cookie carries return_to")
}

func TestNetAmountIsPublic(t *testing.T) {
	router := newTestRouter(t)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/listings/net-amount?price=250", nil))

	require.Equal(t, http.StatusOK, res.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	assert.Equal(t, 225.0, body["net_amount"])
}

func TestPostWithoutCSRFTokenIsForbidden(t *testing.T) {
	router := newTestRouter(t)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/auth/login", nil))

	assert.Equal(t, http.StatusForbidden, res.Code)
}

func TestSecurityHeadersAllowDataPreviews(t *testing.T) {
	router := newTestRouter(t)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/auth/login", nil))

	require.Equal(t, http.StatusOK, res.Code)
	csp := res.Header().Get("Content-Security-Policy")
	assert.Contains(t, csp, "img-src 'self' data:")
	assert.Equal(t, "nosniff", res.Header().Get("X-Content-Type-Options"))
}

func TestStaticAssetsAreCached(t *testing.T) {
	router := newTestRouter(t)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/static/js/listing.js", nil))

	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "public, max-age=3600", res.Header().Get("Cache-Control"))
}
