// Package handler exposes the profile endpoints. It is a thin layer: decode
// and validate the body, build the caller from the request context, delegate
// to the profile service, translate the result.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	accountmodels "attest/internal/account/models"
	gate "attest/internal/gate/service"
	"attest/internal/platform/middleware"
	"attest/internal/profile"
	id "attest/pkg/domain"
	dErrors "attest/pkg/domain-errors"
	"attest/pkg/platform/httputil"
	"attest/pkg/requestcontext"
)

// Service is the profile operations surface the handler needs.
type Service interface {
	Get(ctx context.Context, caller gate.Caller) (*profile.View, error)
	Update(ctx context.Context, caller gate.Caller, update accountmodels.ProfileUpdate) (*profile.View, error)
	ChangePassword(ctx context.Context, caller gate.Caller, recordID id.RecordID, newPassword string) error
	ChangePrimaryEmail(ctx context.Context, caller gate.Caller, currentRecordID, newRecordID id.RecordID, email string) error
	ChangePrimaryPhone(ctx context.Context, caller gate.Caller, currentRecordID, newRecordID id.RecordID, phone string) error
	LinkIdentity(ctx context.Context, caller gate.Caller, currentRecordID, newRecordID id.RecordID, target string, identity accountmodels.SocialIdentity) error
	UnlinkIdentity(ctx context.Context, caller gate.Caller, recordID id.RecordID, target string) error
}

// Handler handles the profile endpoints.
type Handler struct {
	service   Service
	logger    *slog.Logger
	validator middleware.TokenValidator
}

func New(service Service, validator middleware.TokenValidator, logger *slog.Logger) *Handler {
	return &Handler{
		service:   service,
		logger:    logger,
		validator: validator,
	}
}

// Register mounts the profile routes with the full middleware chain.
func (h *Handler) Register(r chi.Router) {
	profileRouter := chi.NewRouter()
	profileRouter.Use(middleware.Recovery(h.logger))
	profileRouter.Use(middleware.RequestID)
	profileRouter.Use(middleware.Logger(h.logger))
	profileRouter.Use(middleware.Timeout(30 * time.Second))
	profileRouter.Use(middleware.DeviceMetadata)
	profileRouter.Use(middleware.RequireAuth(h.validator, h.logger))

	profileRouter.Get("/profile", h.handleGet)
	profileRouter.Patch("/profile", h.handleUpdate)
	profileRouter.Post("/profile/password", h.handleChangePassword)
	profileRouter.Post("/profile/primary-email", h.handleChangePrimaryEmail)
	profileRouter.Post("/profile/primary-phone", h.handleChangePrimaryPhone)
	profileRouter.Post("/profile/identities", h.handleLinkIdentity)
	profileRouter.Delete("/profile/identities/{target}", h.handleUnlinkIdentity)

	r.Mount("/", profileRouter)
}

// caller builds the authenticated caller from context. RequireAuth guarantees
// both values are present on every route below.
func (h *Handler) caller(ctx context.Context) gate.Caller {
	return gate.Caller{
		UserID: requestcontext.UserID(ctx),
		Scopes: requestcontext.Scopes(ctx),
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := h.service.Get(ctx, h.caller(ctx))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[updateProfileRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	view, err := h.service.Update(ctx, h.caller(ctx), accountmodels.ProfileUpdate{
		Name:     req.Name,
		Avatar:   req.Avatar,
		Username: req.Username,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[changePasswordRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	recordID, err := id.ParseRecordID(req.VerificationRecordID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.service.ChangePassword(ctx, h.caller(ctx), recordID, req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleChangePrimaryEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[changePrimaryEmailRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	currentID, newID, err := parseRecordIDs(req.VerificationRecordID, req.NewRecordID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.service.ChangePrimaryEmail(ctx, h.caller(ctx), currentID, newID, req.Email); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleChangePrimaryPhone(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[changePrimaryPhoneRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	currentID, newID, err := parseRecordIDs(req.VerificationRecordID, req.NewRecordID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.service.ChangePrimaryPhone(ctx, h.caller(ctx), currentID, newID, req.Phone); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLinkIdentity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[linkIdentityRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	currentID, newID, err := parseRecordIDs(req.VerificationRecordID, req.NewRecordID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	identity := accountmodels.SocialIdentity{UserID: req.ExternalID, Details: req.Details}
	if err := h.service.LinkIdentity(ctx, h.caller(ctx), currentID, newID, req.Target, identity); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUnlinkIdentity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	target := chi.URLParam(r, "target")
	if target == "" {
		h.writeError(w, r, dErrors.New(dErrors.CodeInvalidInput, "target is required"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[unlinkIdentityRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	recordID, err := id.ParseRecordID(req.VerificationRecordID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.service.UnlinkIdentity(ctx, h.caller(ctx), recordID, target); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError logs server-side failures and lets coded errors pass through to
// the client unchanged.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "profile operation failed",
			"request_id", requestcontext.RequestID(ctx),
			"path", r.URL.Path,
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

func parseRecordIDs(current, fresh string) (id.RecordID, id.RecordID, error) {
	currentID, err := id.ParseRecordID(current)
	if err != nil {
		return id.RecordID{}, id.RecordID{}, err
	}
	freshID, err := id.ParseRecordID(fresh)
	if err != nil {
		return id.RecordID{}, id.RecordID{}, err
	}
	return currentID, freshID, nil
}
