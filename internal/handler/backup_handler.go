package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"keyless-recovery/internal/service"
	"keyless-recovery/internal/util"
)

type checkPhoneRequest struct {
	Phone  string `json:"phone"`
	Wallet string `json:"wallet"`
}

type BackupHandler struct {
	responder
	backups  *service.BackupService
	sessions SessionValidator
}

func NewBackupHandler(backups *service.BackupService, sessions SessionValidator, logger *zap.Logger) *BackupHandler {
	return &BackupHandler{
		responder: responder{logger: logger},
		backups:   backups,
		sessions:  sessions,
	}
}

// RegisterRoutes mounts /keyless-backup. Everything except check-phone
// requires a session.
func (h *BackupHandler) RegisterRoutes(router chi.Router) {
	router.Route("/keyless-backup", func(r chi.Router) {
		r.Post("/check-phone", h.CheckPhone)

		r.Group(func(r chi.Router) {
			r.Use(SessionGuard(h.sessions, h.logger))
			r.Post("/", h.SaveBackup)
			r.Get("/", h.GetBackup)
			r.Delete("/", h.DeleteBackup)
			r.Post("/link-wallet", h.LinkWallet)
		})
	})
}

// SaveBackup creates or updates the backup of the X-Wallet-Address wallet.
func (h *BackupHandler) SaveBackup(w http.ResponseWriter, r *http.Request) {
	var req service.SaveBackupRequest
	if !h.decode(w, r, &req) {
		return
	}

	backup, err := h.backups.SaveBackup(r.Context(), r.Header.Get(HeaderWalletAddress), req)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to save keyless backup")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(backup, "Keyless backup saved"))
}

// GetBackup returns the backup linked to the X-Phone phone.
func (h *BackupHandler) GetBackup(w http.ResponseWriter, r *http.Request) {
	phone := r.Header.Get(HeaderPhone)
	if !util.IsE164(phone) {
		h.respondWithServiceError(w, service.ErrInvalidPhone, "Failed to retrieve keyless backup")
		return
	}

	backup, err := h.backups.GetByPhone(r.Context(), phone)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to retrieve keyless backup")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(backup, ""))
}

func (h *BackupHandler) DeleteBackup(w http.ResponseWriter, r *http.Request) {
	wallet := r.Header.Get(HeaderWalletAddress)
	if !util.IsWalletAddress(wallet) {
		h.respondWithServiceError(w, service.ErrInvalidWallet, "Failed to delete keyless backup")
		return
	}

	if err := h.backups.DeleteBackup(r.Context(), wallet); err != nil {
		h.respondWithServiceError(w, err, "Failed to delete keyless backup")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LinkWallet links the body's wallet to its phone using the guard's session.
func (h *BackupHandler) LinkWallet(w http.ResponseWriter, r *http.Request) {
	var req service.LinkWalletRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !util.IsE164(req.Phone) {
		h.respondWithServiceError(w, service.ErrInvalidPhone, "Failed to link wallet")
		return
	}
	if !util.IsWalletAddress(req.WalletAddress) {
		h.respondWithServiceError(w, service.ErrInvalidWallet, "Failed to link wallet")
		return
	}

	session, ok := SessionFromContext(r.Context())
	if !ok {
		h.respondWithServiceError(w, service.ErrInvalidSession, "Failed to link wallet")
		return
	}

	backup, err := h.backups.LinkWalletToPhone(r.Context(), req, session.ID)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to link wallet")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(backup, "Wallet linked to phone"))
}

// CheckPhone reports whether a backup is linked to a phone. No session needed.
func (h *BackupHandler) CheckPhone(w http.ResponseWriter, r *http.Request) {
	var req checkPhoneRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !util.IsE164(req.Phone) {
		h.respondWithServiceError(w, service.ErrInvalidPhone, "Error checking phone existence")
		return
	}

	res, err := h.backups.CheckPhone(r.Context(), req.Phone, req.Wallet)
	if err != nil {
		h.respondWithServiceError(w, err, "Error checking phone existence")
		return
	}
	h.respondWithJSON(w, http.StatusOK, res)
}
