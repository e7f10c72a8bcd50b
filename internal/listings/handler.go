package listings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"

	"github.com/vitrin/marketplace/internal/categories"
	"github.com/vitrin/marketplace/internal/platform/httpx"
	"github.com/vitrin/marketplace/internal/shared"
	"github.com/vitrin/marketplace/internal/view"
)

// ErrUnsupportedImage rejects a file whose content is not an image.
var ErrUnsupportedImage = errors.New("listings: file is not an image")

const multipartMemory = 8 << 20

// CategoryLister provides the category selector options.
type CategoryLister interface {
	ListActive(ctx context.Context) []categories.Category
}

// Handler serves the listing form, the submit flow and the dashboard.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	drafts     DraftStore
	categories CategoryLister
	templates  *view.Engine
	csrf       *shared.CSRFManager
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, drafts DraftStore, categories CategoryLister, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:     logger,
		service:    service,
		drafts:     drafts,
		categories: categories,
		templates:  templates,
		csrf:       csrf,
	}
}

// MountRoutes registers the form routes. The caller gates them behind login.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/new", h.showNew)
	r.Get("/{id}/edit", h.showEdit)
	r.Post("/new/images", h.stageImages)
	r.Post("/new/images/{imageID}/remove", h.removeImage)
	r.Post("/new/cancel", h.cancel)
	r.Post("/", h.submit)
}

// MountPublicRoutes registers routes that need no login.
func (h *Handler) MountPublicRoutes(r chi.Router) {
	r.Get("/net-amount", h.netAmount)
}

// MountDashboard registers the dashboard page.
func (h *Handler) MountDashboard(r chi.Router) {
	r.Get("/", h.dashboard)
}

type formPageData struct {
	Draft             *Draft
	IsEdit            bool
	Categories        []categories.Category
	Previews          []Preview
	CanAddImages      bool
	MaxImages         int
	NetAmount         string
	CommissionPercent int
	ReturnTo          string
	Errors            map[string]string
}

type dashboardRow struct {
	ID         string
	Title      string
	Tags       []string
	Price      string
	Net        string
	Stock      int
	Status     string
	ImageCount int
	CreatedAt  time.Time
}

type dashboardPageData struct {
	Listings []dashboardRow
}

// showNew starts a fresh draft. A stored draft only carries state between
// form posts, so a reload drops whatever was staged before.
func (h *Handler) showNew(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.fail(w, "load draft", ErrNoSession)
		return
	}
	d := NewDraft()
	if err := h.drafts.Save(r.Context(), sess.ID, d); err != nil {
		h.logger.Warn("save draft", slog.Any("error", err))
	}
	h.renderForm(w, r, http.StatusOK, d, nil)
}

// showEdit rebuilds the draft from the stored row, replacing any earlier draft.
func (h *Handler) showEdit(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.fail(w, "load edit draft", ErrNoSession)
		return
	}
	l, err := h.service.Get(r.Context(), sess.User(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, ErrNotFound):
		http.NotFound(w, r)
		return
	case errors.Is(err, ErrNotOwner):
		h.redirectWithFlash(w, r, "/dashboard", shared.FlashError, "Bu ilanı düzenleme yetkiniz yok")
		return
	case err != nil:
		h.fail(w, "load edit draft", err)
		return
	}
	d := DraftFromListing(l)
	if err := h.drafts.Save(r.Context(), sess.ID, d); err != nil {
		h.logger.Warn("save draft", slog.Any("error", err))
	}
	h.renderForm(w, r, http.StatusOK, d, nil)
}

func (h *Handler) stageImages(w http.ResponseWriter, r *http.Request) {
	sess, d, ok := h.draftFromPost(w, r)
	if !ok {
		return
	}
	batch, err := h.readImages(r)
	if err == nil {
		err = d.Staging.Add(batch, h.service.MaxImageBytes())
	}
	if saveErr := h.drafts.Save(r.Context(), sess.ID, d); saveErr != nil {
		h.logger.Warn("save draft", slog.Any("error", saveErr))
	}
	if err != nil {
		msg := imageErrorMessage(err, h.service.MaxImageBytes())
		if msg == "" {
			h.fail(w, "stage images", err)
			return
		}
		h.renderForm(w, r, http.StatusBadRequest, d, map[string]string{"images": msg})
		return
	}
	h.renderForm(w, r, http.StatusOK, d, nil)
}

func (h *Handler) removeImage(w http.ResponseWriter, r *http.Request) {
	sess, d, ok := h.draftFromPost(w, r)
	if !ok {
		return
	}
	if err := d.Staging.Remove(chi.URLParam(r, "imageID")); err != nil {
		h.logger.Info("remove staged image", slog.String("image_id", chi.URLParam(r, "imageID")), slog.Any("error", err))
	}
	if err := h.drafts.Save(r.Context(), sess.ID, d); err != nil {
		h.logger.Warn("save draft", slog.Any("error", err))
	}
	h.renderForm(w, r, http.StatusOK, d, nil)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if err := parseForm(r); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if err := h.drafts.Discard(r.Context(), sess.ID, r.PostFormValue("listing_id")); err != nil {
		h.logger.Warn("discard draft", slog.Any("error", err))
	}
	http.Redirect(w, r, safeReturnPath(r.PostFormValue("return_to")), http.StatusSeeOther)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	sess, d, ok := h.draftFromPost(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	// Files picked without pressing "add" are staged with the submit.
	batch, err := h.readImages(r)
	if err == nil && len(batch) > 0 {
		err = d.Staging.Add(batch, h.service.MaxImageBytes())
	}
	if err != nil {
		h.saveDraft(ctx, sess, d)
		msg := imageErrorMessage(err, h.service.MaxImageBytes())
		if msg == "" {
			h.fail(w, "read submitted images", err)
			return
		}
		h.renderForm(w, r, http.StatusBadRequest, d, map[string]string{"images": msg})
		return
	}

	result, err := h.service.Submit(ctx, sess.User(), d)
	if err != nil {
		var verr *ValidationError
		var ierr *InsertError
		switch {
		case errors.As(err, &verr):
			h.saveDraft(ctx, sess, d)
			h.renderForm(w, r, http.StatusBadRequest, d, verr.Fields)
		case errors.Is(err, ErrNoSession):
			h.redirectWithFlash(w, r, "/auth/login", shared.FlashError, "Oturum açmanız gerekiyor")
		case errors.Is(err, ErrAlreadySubmitted):
			h.redirectWithFlash(w, r, "/dashboard", shared.FlashWarning, "Bu ilan zaten gönderildi")
		case errors.Is(err, ErrNotOwner), errors.Is(err, ErrNotFound):
			h.redirectWithFlash(w, r, "/dashboard", shared.FlashError, "Bu ilanı düzenleme yetkiniz yok")
		case errors.As(err, &ierr):
			h.keepAfterFailure(ctx, sess, d, result)
			h.logger.Error("insert listing", slog.String("user_id", sess.User()), slog.Any("error", err))
			sess.AddFlash(shared.FlashMessage{Kind: shared.FlashError, Title: "Hata", Message: ierr.Error()})
			h.renderForm(w, r, http.StatusInternalServerError, d, nil)
		default:
			h.saveDraft(ctx, sess, d)
			h.fail(w, "submit listing", err)
		}
		return
	}

	if err := h.drafts.Discard(ctx, sess.ID, d.ListingID); err != nil {
		h.logger.Warn("discard draft", slog.Any("error", err))
	}
	sess.AddFlash(shared.FlashMessage{Kind: shared.FlashSuccess, Title: "Başarılı", Message: "İlan yayınlandı"})
	if failed := FailedUploads(result.Uploads); failed > 0 {
		sess.AddFlash(shared.FlashMessage{
			Kind:    shared.FlashWarning,
			Title:   "Uyarı",
			Message: fmt.Sprintf("%d fotoğraf yüklenemedi", failed),
		})
	}
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// keepAfterFailure keeps the draft for a retry. Images that did upload are
// swapped for their stored URL so the retry does not upload them again,
// unless they are queued for cleanup.
func (h *Handler) keepAfterFailure(ctx context.Context, sess *shared.Session, d *Draft, result *SubmitResult) {
	if result != nil && !h.service.CleansOrphans() {
		for _, up := range result.Uploads {
			if !up.OK() || up.Reused {
				continue
			}
			for i := range d.Staging.Images {
				if d.Staging.Images[i].ID == up.ImageID {
					d.Staging.Images[i].Data = nil
					d.Staging.Images[i].URL = up.URL
				}
			}
		}
	}
	d.RenewSubmissionKey()
	h.saveDraft(ctx, sess, d)
}

func (h *Handler) netAmount(w http.ResponseWriter, r *http.Request) {
	net, ok := NetAmount(r.URL.Query().Get("price"))
	if !ok {
		httpx.JSON(w, http.StatusOK, map[string]any{"net_amount": nil})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"net_amount":         net,
		"formatted":          FormatNetAmount(net),
		"commission_percent": CommissionPercent(),
	})
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	user := shared.CurrentUser(r.Context())
	items, err := h.service.ListByOwner(r.Context(), user)
	if err != nil {
		h.fail(w, "list listings", err)
		return
	}
	rows := make([]dashboardRow, 0, len(items))
	for _, l := range items {
		rows = append(rows, dashboardRow{
			ID:         l.ID,
			Title:      l.Title,
			Tags:       l.Tags,
			Price:      FormatLira(l.Price),
			Net:        FormatNetAmount(l.NetAmount()),
			Stock:      l.Stock,
			Status:     l.Status,
			ImageCount: len(l.Images),
			CreatedAt:  l.CreatedAt,
		})
	}
	h.render(w, r, http.StatusOK, "pages/dashboard.html", "İlanlarım", dashboardPageData{Listings: rows})
}

// draftFromPost loads the draft named by the posted form and applies the
// posted field values to it.
func (h *Handler) draftFromPost(w http.ResponseWriter, r *http.Request) (*shared.Session, *Draft, bool) {
	sess := shared.SessionFromContext(r.Context())
	if err := parseForm(r); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return nil, nil, false
	}
	d, err := h.loadDraft(r.Context(), sess, r.PostFormValue("listing_id"))
	switch {
	case errors.Is(err, ErrNotFound):
		http.NotFound(w, r)
		return nil, nil, false
	case errors.Is(err, ErrNotOwner):
		h.redirectWithFlash(w, r, "/dashboard", shared.FlashError, "Bu ilanı düzenleme yetkiniz yok")
		return nil, nil, false
	case err != nil:
		h.fail(w, "load draft", err)
		return nil, nil, false
	}
	d.Apply(formFields(r))
	// The page carries the key it was rendered with so a resent form is
	// caught after its draft is gone.
	if key := r.PostFormValue("submission_key"); key != "" {
		d.SubmissionKey = key
	}
	return sess, d, true
}

func (h *Handler) loadDraft(ctx context.Context, sess *shared.Session, listingID string) (*Draft, error) {
	if sess == nil {
		return nil, ErrNoSession
	}
	d, err := h.drafts.Load(ctx, sess.ID, listingID)
	if err != nil {
		return nil, err
	}
	if d != nil {
		return d, nil
	}
	if listingID == "" {
		return NewDraft(), nil
	}
	l, err := h.service.Get(ctx, sess.User(), listingID)
	if err != nil {
		return nil, err
	}
	return DraftFromListing(l), nil
}

func (h *Handler) saveDraft(ctx context.Context, sess *shared.Session, d *Draft) {
	if err := h.drafts.Save(ctx, sess.ID, d); err != nil {
		h.logger.Warn("save draft", slog.Any("error", err))
	}
}

// readImages reads the "images" file parts, sniffing each content type.
func (h *Handler) readImages(r *http.Request) ([]StagedImage, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	files := r.MultipartForm.File["images"]
	batch := make([]StagedImage, 0, len(files))
	for _, fh := range files {
		if fh.Filename == "" && fh.Size == 0 {
			continue
		}
		img, err := readImage(fh, h.service.MaxImageBytes())
		if err != nil {
			return nil, err
		}
		batch = append(batch, img)
	}
	return batch, nil
}

func readImage(fh *multipart.FileHeader, maxBytes int64) (StagedImage, error) {
	if maxBytes > 0 && fh.Size > maxBytes {
		return StagedImage{}, ErrImageTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return StagedImage{}, fmt.Errorf("listings: open upload: %w", err)
	}
	defer f.Close()

	var reader io.Reader = f
	if maxBytes > 0 {
		reader = io.LimitReader(f, maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return StagedImage{}, fmt.Errorf("listings: read upload: %w", err)
	}
	if len(data) == 0 {
		return StagedImage{}, ErrEmptyImage
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return StagedImage{}, ErrUnsupportedImage
	}
	return StagedImage{FileName: fh.Filename, ContentType: mt.String(), Data: data}, nil
}

func imageErrorMessage(err error, maxBytes int64) string {
	switch {
	case errors.Is(err, ErrTooManyImages):
		return fmt.Sprintf("Maksimum %d fotoğraf yükleyebilirsiniz", MaxImages)
	case errors.Is(err, ErrImageTooLarge):
		return fmt.Sprintf("Her fotoğraf en fazla %d MB olabilir", maxBytes>>20)
	case errors.Is(err, ErrEmptyImage):
		return "Boş dosya yüklenemez"
	case errors.Is(err, ErrUnsupportedImage):
		return "Yalnızca görsel dosyaları yüklenebilir"
	}
	return ""
}

func (h *Handler) renderForm(w http.ResponseWriter, r *http.Request, status int, d *Draft, errs map[string]string) {
	if errs == nil {
		errs = map[string]string{}
	}
	data := formPageData{
		Draft:             d,
		IsEdit:            d.IsEdit(),
		Categories:        h.categories.ListActive(r.Context()),
		Previews:          d.Staging.Previews(),
		CanAddImages:      d.Staging.Len() < MaxImages,
		MaxImages:         MaxImages,
		CommissionPercent: CommissionPercent(),
		ReturnTo:          safeReturnPath(r.FormValue("return_to")),
		Errors:            errs,
	}
	if net, ok := d.NetAmount(); ok {
		data.NetAmount = FormatNetAmount(net)
	}
	title := "Yeni İlan"
	if d.IsEdit() {
		title = "İlan Düzenle"
	}
	h.render(w, r, status, "pages/listing_form.html", title, data)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name, title string, data any) {
	sess := shared.SessionFromContext(r.Context())
	viewData := view.TemplateData{
		Title:       title,
		CSRFToken:   h.csrf.EnsureToken(sess),
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	if sess != nil {
		viewData.Flashes = sess.PopFlashes()
		viewData.CurrentUser = sess.User()
	}
	if err := h.templates.RenderStatus(w, status, name, viewData); err != nil {
		h.logger.Error("render "+name, slog.Any("error", err))
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		title := "Hata"
		if kind == shared.FlashWarning {
			title = "Uyarı"
		}
		sess.AddFlash(shared.FlashMessage{Kind: kind, Title: title, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func parseForm(r *http.Request) error {
	err := r.ParseMultipartForm(multipartMemory)
	if errors.Is(err, http.ErrNotMultipart) {
		return r.ParseForm()
	}
	return err
}

func formFields(r *http.Request) Fields {
	return Fields{
		Title:               r.PostFormValue("title"),
		Description:         r.PostFormValue("description"),
		Price:               r.PostFormValue("price"),
		Stock:               r.PostFormValue("stock"),
		CategoryID:          r.PostFormValue("category_id"),
		Platform:            r.PostFormValue("platform"),
		Tags:                r.PostFormValue("tags"),
		AutoDelivery:        r.PostFormValue("auto_delivery") != "",
		AutoDeliveryContent: r.PostFormValue("auto_delivery_content"),
	}
}

// safeReturnPath only accepts local absolute paths.
func safeReturnPath(p string) string {
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return "/dashboard"
	}
	return p
}
