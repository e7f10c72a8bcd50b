package listings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitrin/marketplace/internal/shared"
	"github.com/vitrin/marketplace/internal/view"
	_ "github.com/vitrin/marketplace/testing"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)

type handlerFixture struct {
	*serviceFixture
	router   http.Handler
	sessions *shared.SessionManager
	drafts   *RedisDraftStore
	cookie   *http.Cookie
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sessions := shared.NewSessionManager(client, "test_session", time.Hour, false)
	csrf := shared.NewCSRFManager("csrfsecret")
	templates, err := view.NewEngine()
	require.NoError(t, err)

	f := &handlerFixture{
		serviceFixture: newServiceFixture(t, nil),
		sessions:       sessions,
		drafts:         NewRedisDraftStore(client, 30*time.Minute),
	}
	h := NewHandler(nil, f.svc, f.drafts, testCategories, templates, csrf)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := sessions.Load(r.Context(), r)
			require.NoError(t, err)
			next.ServeHTTP(w, r.WithContext(shared.ContextWithSession(r.Context(), sess)))
			require.NoError(t, sessions.Commit(context.Background(), httptest.NewRecorder(), sess))
		})
	})
	r.Route("/listings", func(r chi.Router) {
		h.MountPublicRoutes(r)
		h.MountRoutes(r)
	})
	r.Route("/dashboard", h.MountDashboard)
	f.router = r

	sess, err := sessions.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.SetUser("user-1")
	require.NoError(t, sessions.Commit(context.Background(), httptest.NewRecorder(), sess))
	f.cookie = &http.Cookie{Name: sessions.CookieName(), Value: sess.ID}
	return f
}

func (f *handlerFixture) do(req *http.Request) *httptest.ResponseRecorder {
	req.AddCookie(f.cookie)
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	return res
}

func (f *handlerFixture) session(t *testing.T) *shared.Session {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(f.cookie)
	sess, err := f.sessions.Load(context.Background(), req)
	require.NoError(t, err)
	return sess
}

type upload struct {
	name string
	data []byte
}

func multipartRequest(t *testing.T, target string, fields url.Values, files ...upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, vs := range fields {
		for _, v := range vs {
			require.NoError(t, mw.WriteField(k, v))
		}
	}
	for _, f := range files {
		part, err := mw.CreateFormFile("images", f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func formValues() url.Values {
	return url.Values{
		"title":       {"Steam Premium Hesap"},
		"description": {"200+ oyun"},
		"price":       {"100"},
		"stock":       {"1"},
		"category_id": {"cat-games"},
		"platform":    {"PC"},
		"tags":        {"Steam, Premium"},
	}
}

func pngs(n int) []upload {
	out := make([]upload, n)
	for i := range out {
		out[i] = upload{name: fmt.Sprintf("foto-%d.png", i+1), data: pngBytes}
	}
	return out
}

func TestShowNewRendersEmptyForm(t *testing.T) {
	f := newHandlerFixture(t)

	res := f.do(httptest.NewRequest(http.MethodGet, "/listings/new", nil))
	require.Equal(t, http.StatusOK, res.Code)
	body := res.Body.String()
	assert.Contains(t, body, "Yeni İlan Oluştur")
	assert.Contains(t, body, "Oyun Hesapları")
	assert.Contains(t, body, `name="stock" type="number" value="1"`)
	assert.Contains(t, body, `id="net-amount" class="net" data-endpoint="/listings/net-amount" hidden`)
}

func TestStageImagesShowsPreviewsAndKeepsFields(t *testing.T) {
	f := newHandlerFixture(t)

	res := f.do(multipartRequest(t, "/listings/new/images", formValues(), pngs(2)...))
	require.Equal(t, http.StatusOK, res.Code)
	body := res.Body.String()
	assert.Equal(t, 2, strings.Count(body, "data:image/png;base64,"))
	assert.Contains(t, body, `value="Steam Premium Hesap"`)
	assert.Contains(t, body, "Size Aktarılacak Net Tutar")

	d, err := f.drafts.Load(context.Background(), f.cookie.Value, "")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 2, d.Staging.Len())
	assert.Equal(t, "image/png", d.Staging.Images[0].ContentType)
	assert.Equal(t, "Steam Premium Hesap", d.Title)
}

func TestShowNewStartsFreshDraft(t *testing.T) {
	f := newHandlerFixture(t)
	values := formValues()
	values.Set("title", "ESKI TASLAK")
	require.Equal(t, http.StatusOK, f.do(multipartRequest(t, "/listings/new/images", values, pngs(2)...)).Code)

	res := f.do(httptest.NewRequest(http.MethodGet, "/listings/new", nil))
	require.Equal(t, http.StatusOK, res.Code)
	body := res.Body.String()
	assert.NotContains(t, body, "ESKI TASLAK")
	assert.Zero(t, strings.Count(body, "data:image/png;base64,"))
	assert.Contains(t, body, `name="stock" type="number" value="1"`)

	d, err := f.drafts.Load(context.Background(), f.cookie.Value, "")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Empty(t, d.Title)
	assert.Zero(t, d.Staging.Len())
}

func TestShowEditRebuildsFromStoredListing(t *testing.T) {
	f := newHandlerFixture(t)
	own, err := f.repo.Insert(context.Background(), Listing{
		UserID: "user-1", Title: "Kayıtlı İlan", Price: 50, Stock: 2, CategoryID: "cat-games",
		Images: []string{"https://cdn.test/user-1/a.png"}, Status: StatusActive,
	})
	require.NoError(t, err)

	values := formValues()
	values.Set("listing_id", own.ID)
	values.Set("title", "Yarım kalan düzenleme")
	require.Equal(t, http.StatusOK, f.do(multipartRequest(t, "/listings/new/images", values, pngs(2)...)).Code)

	res := f.do(httptest.NewRequest(http.MethodGet, "/listings/"+own.ID+"/edit", nil))
	require.Equal(t, http.StatusOK, res.Code)
	body := res.Body.String()
	assert.Contains(t, body, `value="Kayıtlı İlan"`)
	assert.NotContains(t, body, "Yarım kalan düzenleme")

	d, err := f.drafts.Load(context.Background(), f.cookie.Value, own.ID)
	require.NoError(t, err)
	require.NotNil(t, d)
	require.Equal(t, 1, d.Staging.Len())
	assert.Equal(t, "https://cdn.test/user-1/a.png", d.Staging.Images[0].URL)
}

func TestStageImagesAcrossBatchesUpToCap(t *testing.T) {
	f := newHandlerFixture(t)
	require.Equal(t, http.StatusOK, f.do(multipartRequest(t, "/listings/new/images", formValues(), pngs(3)...)).Code)

	res := f.do(multipartRequest(t, "/listings/new/images", formValues(), pngs(2)...))
	require.Equal(t, http.StatusOK, res.Code)
	body := res.Body.String()
	assert.Equal(t, 5, strings.Count(body, "data:image/png;base64,"))
	assert.NotContains(t, body, `id="images"`, "picker hidden at the cap")

	d, err := f.drafts.Load(context.Background(), f.cookie.Value, "")
	require.NoError(t, err)
	assert.Equal(t, 5, d.Staging.Len())
}

func TestStageImagesRejectsBatchOverCap(t *testing.T) {
	f := newHandlerFixture(t)
	require.Equal(t, http.StatusOK, f.do(multipartRequest(t, "/listings/new/images", formValues(), pngs(3)...)).Code)

	res := f.do(multipartRequest(t, "/listings/new/images", formValues(), pngs(3)...))
	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), "Maksimum 5 fotoğraf yükleyebilirsiniz")

	d, err := f.drafts.Load(context.Background(), f.cookie.Value, "")
	require.NoError(t, err)
	assert.Equal(t, 3, d.Staging.Len())
}

func TestStageImagesRejectsNonImage(t *testing.T) {
	f := newHandlerFixture(t)

	res := f.do(multipartRequest(t, "/listings/new/images", formValues(), upload{name: "notes.png", data: []byte("just text")}))
	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), "Yalnızca görsel dosyaları yüklenebilir")
}

func TestRemoveImage(t *testing.T) {
	f := newHandlerFixture(t)
	require.Equal(t, http.StatusOK, f.do(multipartRequest(t, "/listings/new/images", formValues(), pngs(3)...)).Code)
	d, err := f.drafts.Load(context.Background(), f.cookie.Value, "")
	require.NoError(t, err)
	removed := d.Staging.Images[1]

	res := f.do(multipartRequest(t, "/listings/new/images/"+removed.ID+"/remove", formValues()))
	require.Equal(t, http.StatusOK, res.Code)

	d, err = f.drafts.Load(context.Background(), f.cookie.Value, "")
	require.NoError(t, err)
	require.Equal(t, 2, d.Staging.Len())
	assert.Equal(t, "foto-1.png", d.Staging.Images[0].FileName)
	assert.Equal(t, "foto-3.png", d.Staging.Images[1].FileName)
}

func TestSubmitRedirectsToDashboard(t *testing.T) {
	f := newHandlerFixture(t)
	require.Equal(t, http.StatusOK, f.do(multipartRequest(t, "/listings/new/images", formValues(), pngs(2)...)).Code)

	res := f.do(multipartRequest(t, "/listings", formValues()))
	require.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/dashboard", res.Header().Get("Location"))

	rows := f.repo.all()
	require.Len(t, rows, 1)
	assert.Equal(t, "user-1", rows[0].UserID)
	assert.Equal(t, StatusActive, rows[0].Status)
	assert.Len(t, rows[0].Images, 2)

	d, err := f.drafts.Load(context.Background(), f.cookie.Value, "")
	require.NoError(t, err)
	assert.Nil(t, d, "draft discarded")

	flashes := f.session(t).PopFlashes()
	require.Len(t, flashes, 1)
	assert.Equal(t, "İlan yayınlandı", flashes[0].Message)

	dash := f.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	require.Equal(t, http.StatusOK, dash.Code)
	assert.Contains(t, dash.Body.String(), "Steam Premium Hesap")
	assert.Contains(t, dash.Body.String(), "/listings/"+rows[0].ID+"/edit")
}

func TestResubmittedFormIsNotPublishedTwice(t *testing.T) {
	f := newHandlerFixture(t)
	require.Equal(t, http.StatusOK, f.do(httptest.NewRequest(http.MethodGet, "/listings/new", nil)).Code)
	d, err := f.drafts.Load(context.Background(), f.cookie.Value, "")
	require.NoError(t, err)
	require.NotNil(t, d)

	values := formValues()
	values.Set("submission_key", d.SubmissionKey)
	require.Equal(t, http.StatusSeeOther, f.do(multipartRequest(t, "/listings", values)).Code)

	res := f.do(multipartRequest(t, "/listings", values))
	require.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/dashboard", res.Header().Get("Location"))
	assert.Len(t, f.repo.all(), 1)

	flashes := f.session(t).PopFlashes()
	require.Len(t, flashes, 2)
	assert.Equal(t, "İlan yayınlandı", flashes[0].Message)
	assert.Equal(t, shared.FlashWarning, flashes[1].Kind)
	assert.Equal(t, "Bu ilan zaten gönderildi", flashes[1].Message)
}

func TestSubmitWarnsAboutFailedUploads(t *testing.T) {
	f := newHandlerFixture(t)
	f.store.FailKeys = []string{".gif"}
	files := append(pngs(1), upload{name: "anim.gif", data: []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00")})

	res := f.do(multipartRequest(t, "/listings", formValues(), files...))
	require.Equal(t, http.StatusSeeOther, res.Code)

	flashes := f.session(t).PopFlashes()
	require.Len(t, flashes, 2)
	assert.Equal(t, shared.FlashWarning, flashes[1].Kind)
	assert.Equal(t, "1 fotoğraf yüklenemedi", flashes[1].Message)
	assert.Len(t, f.repo.all()[0].Images, 1)
}

func TestSubmitInvalidKeepsValues(t *testing.T) {
	f := newHandlerFixture(t)
	values := formValues()
	values.Set("price", "abc")
	values.Set("title", "")
	values.Set("description", "korunan açıklama")

	res := f.do(multipartRequest(t, "/listings", values))
	require.Equal(t, http.StatusBadRequest, res.Code)
	body := res.Body.String()
	assert.Contains(t, body, "İlan başlığı gerekli")
	assert.Contains(t, body, "Geçerli bir fiyat girin")
	assert.Contains(t, body, "korunan açıklama")
	assert.Empty(t, f.repo.all())
}

func TestSubmitInsertFailureKeepsDraft(t *testing.T) {
	f := newHandlerFixture(t)
	f.repo.insertErr = fmt.Errorf("new row violates row-level security policy")

	res := f.do(multipartRequest(t, "/listings", formValues(), pngs(2)...))
	require.Equal(t, http.StatusInternalServerError, res.Code)
	assert.Contains(t, res.Body.String(), "new row violates row-level security policy")
	assert.Len(t, f.store.Keys(), 2)

	d, err := f.drafts.Load(context.Background(), f.cookie.Value, "")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "Steam Premium Hesap", d.Title)
	require.Equal(t, 2, d.Staging.Len())
	assert.True(t, d.Staging.Images[0].Stored(), "uploaded image reused on retry")

	f.repo.insertErr = nil
	res = f.do(multipartRequest(t, "/listings", formValues()))
	require.Equal(t, http.StatusSeeOther, res.Code)
	assert.Len(t, f.store.Keys(), 2)
	assert.Len(t, f.repo.all()[0].Images, 2)
}

func TestCancelDiscardsDraft(t *testing.T) {
	f := newHandlerFixture(t)
	require.Equal(t, http.StatusOK, f.do(multipartRequest(t, "/listings/new/images", formValues(), pngs(1)...)).Code)

	values := url.Values{"return_to": {"//evil.example"}}
	req := httptest.NewRequest(http.MethodPost, "/listings/new/cancel", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res := f.do(req)
	require.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/dashboard", res.Header().Get("Location"))

	d, err := f.drafts.Load(context.Background(), f.cookie.Value, "")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestEditOtherUsersListingIsRejected(t *testing.T) {
	f := newHandlerFixture(t)
	other, err := f.repo.Insert(context.Background(), Listing{UserID: "user-2", Title: "Başkası", Price: 10, Stock: 1, Status: StatusActive})
	require.NoError(t, err)

	res := f.do(httptest.NewRequest(http.MethodGet, "/listings/"+other.ID+"/edit", nil))
	require.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/dashboard", res.Header().Get("Location"))

	res = f.do(httptest.NewRequest(http.MethodGet, "/listings/missing/edit", nil))
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestNetAmountEndpoint(t *testing.T) {
	f := newHandlerFixture(t)

	res := f.do(httptest.NewRequest(http.MethodGet, "/listings/net-amount?price=100", nil))
	require.Equal(t, http.StatusOK, res.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	assert.Equal(t, 90.0, body["net_amount"])
	assert.Equal(t, 10.0, body["commission_percent"])
	assert.NotEmpty(t, body["formatted"])

	res = f.do(httptest.NewRequest(http.MethodGet, "/listings/net-amount?price=abc", nil))
	body = map[string]any{}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	v, ok := body["net_amount"]
	assert.True(t, ok)
	assert.Nil(t, v)
}
