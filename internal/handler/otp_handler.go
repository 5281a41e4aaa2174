package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"keyless-recovery/internal/service"
	"keyless-recovery/internal/util"
)

type sendOTPRequest struct {
	Phone string `json:"phone"`
}

type verifyOTPRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// OTPHandler serves code issuance, verification and emergency recovery.
type OTPHandler struct {
	responder
	otps *service.OTPService
}

func NewOTPHandler(otps *service.OTPService, logger *zap.Logger) *OTPHandler {
	return &OTPHandler{
		responder: responder{logger: logger},
		otps:      otps,
	}
}

// RegisterRoutes mounts the /otp routes behind guard.
func (h *OTPHandler) RegisterRoutes(router chi.Router, guard func(http.Handler) http.Handler) {
	router.Route("/otp", func(r chi.Router) {
		r.Use(guard)
		r.Post("/send", h.SendOTP)
		r.Post("/verify", h.VerifyOTP)
		r.Post("/emergency-recovery", h.EmergencyRecovery)
	})
}

func (h *OTPHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !util.IsE164(req.Phone) {
		h.respondWithServiceError(w, service.ErrInvalidPhone, "Failed to send OTP")
		return
	}

	res, err := h.otps.SendOTP(r.Context(), req.Phone)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to send OTP")
		return
	}
	if claims, ok := ClientClaims(r.Context()); ok {
		h.logger.Debug("OTP requested by client", util.String("client_id", claims.ClientID))
	}
	h.respondWithJSON(w, http.StatusOK, res)
}

// VerifyOTP answers 200 with success=false for wrong, expired or used codes.
func (h *OTPHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !util.IsE164(req.Phone) {
		h.respondWithServiceError(w, service.ErrInvalidPhone, "Failed to verify OTP")
		return
	}
	if !util.IsOTPCode(req.Code) {
		h.respondWithServiceError(w, service.InvalidRequest("Code must be exactly 6 digits"), "Failed to verify OTP")
		return
	}

	res, err := h.otps.VerifyOTP(r.Context(), req.Phone, req.Code)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to verify OTP")
		return
	}
	h.respondWithJSON(w, http.StatusOK, res)
}

func (h *OTPHandler) EmergencyRecovery(w http.ResponseWriter, r *http.Request) {
	var req service.EmergencyRecoveryRequest
	if !h.decode(w, r, &req) {
		return
	}
	switch {
	case !util.IsE164(req.Phone):
		h.respondWithServiceError(w, service.ErrInvalidPhone, "Emergency recovery failed")
		return
	case !util.IsWalletAddress(req.WalletAddress):
		h.respondWithServiceError(w, service.ErrInvalidWallet, "Emergency recovery failed")
		return
	case req.AdminCode == "":
		h.respondWithServiceError(w, service.InvalidRequest("Admin code is required"), "Emergency recovery failed")
		return
	}

	res, err := h.otps.EmergencyRecovery(r.Context(), req)
	if err != nil {
		h.respondWithServiceError(w, err, "Emergency recovery failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, res)
}
