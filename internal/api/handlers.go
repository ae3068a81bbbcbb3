package api

import (
	"context"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/assistenze/internal/apperr"
	"github.com/starford/assistenze/internal/auth"
	"github.com/starford/assistenze/internal/export"
	"github.com/starford/assistenze/internal/models"
	"github.com/starford/assistenze/internal/recordservice"
	"github.com/starford/assistenze/internal/sse"
)

// Client-facing messages.
const (
	MsgSaved        = "Dati salvati con successo!"
	MsgUpdated      = "Record aggiornato con successo"
	MsgRegistered   = "Registrazione avvenuta con successo"
	MsgNothingToExp = "Nessun dato da esportare"
	msgExportFailed = "Errore durante l'esportazione"
)

// RecordService is the record store used by the handlers.
type RecordService interface {
	Create(ctx context.Context, r models.Record) (models.Record, error)
	List(ctx context.Context, filter models.RecordFilter) ([]models.Record, error)
	All(ctx context.Context) ([]models.Record, bool, error)
	Get(ctx context.Context, id string) (models.Record, string, error)
	Update(ctx context.Context, id string, patch models.RecordPatch, ifMatch string) (models.Record, error)
}

// AuthService registers users and issues tokens.
type AuthService interface {
	Authorizer
	Register(ctx context.Context, email, password string) (models.User, error)
	Login(ctx context.Context, email, password string) (string, *auth.Claims, error)
}

// EventPublisher is notified after every successful record write.
type EventPublisher interface {
	PublishRecordEvent(kind, id string)
}

// ExportConfig controls the spreadsheet download.
type ExportConfig struct {
	Sheet    string
	Filename string
	TmpDir   string
}

// Handler holds API route handlers.
type Handler struct {
	records RecordService
	auth    AuthService
	events  EventPublisher
	export  ExportConfig

	protectUpdates bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithEvents sets the publisher notified of record writes.
func WithEvents(p EventPublisher) Option {
	return func(h *Handler) { h.events = p }
}

// WithExport sets the export sheet, download name and temp directory.
func WithExport(cfg ExportConfig) Option {
	return func(h *Handler) {
		if cfg.Sheet != "" {
			h.export.Sheet = cfg.Sheet
		}
		if cfg.Filename != "" {
			h.export.Filename = cfg.Filename
		}
		h.export.TmpDir = cfg.TmpDir
	}
}

// WithProtectedUpdates controls whether PUT /records/{id} requires a token.
func WithProtectedUpdates(enabled bool) Option {
	return func(h *Handler) { h.protectUpdates = enabled }
}

// NewHandler creates a new Handler. Record updates require a token unless
// disabled with WithProtectedUpdates(false).
func NewHandler(records RecordService, authSvc AuthService, opts ...Option) *Handler {
	h := &Handler{
		records: records,
		auth:    authSvc,
		export: ExportConfig{
			Sheet:    export.DefaultSheet,
			Filename: export.DefaultFilename,
		},
		protectUpdates: true,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Handler) publish(kind, id string) {
	if h.events != nil {
		h.events.PublishRecordEvent(kind, id)
	}
}

// Submit handles POST /api/submit.
//
//	@Summary		Save a new assistance record
//	@Tags			records
//	@Accept			json
//	@Produce		json
//	@Param			body	body		models.Record	true	"Record to save"
//	@Success		200		{object}	messageResponse
//	@Failure		400		{object}	errResponse
//	@Failure		500		{object}	errResponse
//	@Router			/submit [post]
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var rec models.Record
	if err := decodeJSON(w, r, &rec); err != nil {
		writeError(w, r, err, "")
		return
	}
	created, err := h.records.Create(r.Context(), rec)
	if err != nil {
		writeError(w, r, err, recordservice.MsgSaveFailed)
		return
	}
	slog.Info("record created",
		slog.String("id", created.ID),
		slog.String("technician", created.Technician),
		slog.Int("duration", int(*created.Duration)))
	h.publish(sse.KindCreated, created.ID)
	writeJSON(w, http.StatusOK, messageResponse{Message: MsgSaved, ID: created.ID})
}

// ListRecords handles GET /api/records.
//
//	@Summary		List records in insertion order
//	@Tags			records
//	@Produce		json
//	@Param			technician	query		string	false	"Exact technician name"
//	@Param			q			query		string	false	"Case-insensitive text search"
//	@Success		200			{array}		models.Record
//	@Router			/records [get]
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.RecordFilter{
		Technician: q.Get("technician"),
		Query:      q.Get("q"),
	}
	records, err := h.records.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err, recordservice.MsgReadFailed)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// GetRecord handles GET /api/records/{id}.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	rec, etag, err := h.records.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, recordservice.MsgReadFailed)
		return
	}
	w.Header().Set("ETag", `"`+etag+`"`)
	writeJSON(w, http.StatusOK, rec)
}

// UpdateRecord handles PUT /api/records/{id}.
//
//	@Summary		Partially update a record
//	@Tags			records
//	@Accept			json
//	@Produce		json
//	@Param			id			path		string				true	"Record id"
//	@Param			If-Match	header		string				false	"ETag from GET /records/{id}"
//	@Param			body		body		models.RecordPatch	true	"Fields to change"
//	@Success		200			{object}	messageResponse
//	@Failure		400			{object}	errResponse
//	@Failure		403			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records/{id} [put]
func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var patch models.RecordPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, err, "")
		return
	}

	// Strip surrounding quotes if present (standard ETag format).
	ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`)
	if ifMatch == "*" {
		ifMatch = ""
	}

	updated, err := h.records.Update(r.Context(), id, patch, ifMatch)
	if err != nil {
		writeError(w, r, err, recordservice.MsgSaveFailed)
		return
	}
	attrs := []any{slog.String("id", id)}
	if c := ClaimsFrom(r.Context()); c != nil {
		attrs = append(attrs, slog.String("by", c.Email))
	}
	slog.Info("record updated", attrs...)
	h.publish(sse.KindUpdated, id)

	w.Header().Set("ETag", `"`+recordservice.ETag(updated)+`"`)
	writeJSON(w, http.StatusOK, messageResponse{Message: MsgUpdated})
}

// Export handles GET /api/export.
//
//	@Summary		Download every record as an XLSX spreadsheet
//	@Tags			export
//	@Produce		application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
//	@Success		200
//	@Failure		403	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/export [get]
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	records, exists, err := h.records.All(r.Context())
	if err != nil {
		writeError(w, r, err, recordservice.MsgReadFailed)
		return
	}
	if !exists {
		writeError(w, r, apperr.New(apperr.ErrNotFound, MsgNothingToExp), "")
		return
	}

	tmp, err := export.TempFile(records, h.export.Sheet, h.export.TmpDir)
	if err != nil {
		writeError(w, r, err, msgExportFailed)
		return
	}
	defer func() {
		tmp.Close()
		if err := os.Remove(tmp.Name()); err != nil {
			slog.Warn("export: remove temp file", slog.String("path", tmp.Name()), slog.String("error", err.Error()))
		}
	}()

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": h.export.Filename}))
	http.ServeContent(w, r, h.export.Filename, time.Now(), tmp)
}

// Register handles POST /api/register.
//
//	@Summary		Register a user
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CredentialsRequest	true	"Credentials"
//	@Success		200		{object}	messageResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Router			/register [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err, "")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, err, "")
		return
	}
	user, err := h.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	slog.Info("user registered", slog.String("email", user.Email), slog.String("role", user.Role))
	writeJSON(w, http.StatusOK, messageResponse{Message: MsgRegistered})
}

// Login handles POST /api/login.
//
//	@Summary		Exchange credentials for a token
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CredentialsRequest	true	"Credentials"
//	@Success		200		{object}	LoginResponse
//	@Failure		400		{object}	errResponse
//	@Failure		401		{object}	errResponse
//	@Router			/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err, "")
		return
	}
	token, claims, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	})
}
