package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"reset-service/internal/service"
	"reset-service/internal/util"

	"github.com/go-chi/chi/v5"
)

// ResetHandler handles HTTP requests for the password-reset flows.
type ResetHandler struct {
	resetService *service.ResetService
	logger       *zap.Logger
}

// NewResetHandler creates a new reset handler.
func NewResetHandler(resetService *service.ResetService, logger *zap.Logger) *ResetHandler {
	return &ResetHandler{
		resetService: resetService,
		logger:       logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// successResponse creates a successful response
func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// errorResponse creates an error response
func errorResponse(errText, message string) Response {
	return Response{
		Success: false,
		Error:   errText,
		Message: message,
	}
}

// RequestBody is the payload for requesting a reset code.
type RequestBody struct {
	Phone string `json:"phone"`
}

// ConfirmBody is the payload for confirming a reset.
type ConfirmBody struct {
	Phone       string `json:"phone"`
	OTP         string `json:"otp"`
	NewPassword string `json:"newPassword"`
}

// User-facing messages. The acknowledgement and the rejection are each a
// single fixed string so responses carry no signal about registration state
// or which check failed.
const (
	msgGenericAck   = "If this phone number is registered, you will receive an OTP"
	msgInvalidOTP   = "Invalid or expired OTP"
	msgRateLimited  = "Too many OTP requests. Please try again in %d minutes."
	msgSendFailed   = "Failed to send OTP"
	msgUpdateFailed = "Failed to update password"
)

// RegisterRoutes registers the password-reset routes.
func (h *ResetHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth/password-reset", func(r chi.Router) {
		r.Post("/request", h.RequestReset)
		r.Post("/confirm", h.ConfirmReset)
	})
}

// RequestReset handles the OTP request flow
// @Summary Request a password-reset OTP
// @Description Send a one-time reset code to a registered phone number
// @Tags password-reset
// @Accept json
// @Produce json
// @Param request body RequestBody true "Reset request"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 429 {object} Response
// @Failure 500 {object} Response
// @Router /auth/password-reset/request [post]
func (h *ResetHandler) RequestReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req RequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid request body", "Invalid request body")
		return
	}

	if err := h.resetService.RequestReset(ctx, req.Phone); err != nil {
		h.respondRequestError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, msgGenericAck))
	h.logger.Info("Reset code requested via HTTP",
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "RequestReset"),
	)
}

// ConfirmReset handles the OTP verification and password update flow
// @Summary Confirm a password reset
// @Description Verify the reset code and set the new password
// @Tags password-reset
// @Accept json
// @Produce json
// @Param request body ConfirmBody true "Reset confirmation"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 500 {object} Response
// @Router /auth/password-reset/confirm [post]
func (h *ResetHandler) ConfirmReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req ConfirmBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid request body", "Invalid request body")
		return
	}

	if err := h.resetService.ConfirmReset(ctx, req.Phone, req.OTP, req.NewPassword); err != nil {
		h.respondConfirmError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Password has been reset successfully"))
	h.logger.Info("Password reset confirmed via HTTP",
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "ConfirmReset"),
	)
}

// respondRequestError maps a RequestReset error to its HTTP response.
func (h *ResetHandler) respondRequestError(w http.ResponseWriter, err error) {
	var validation *service.ValidationError
	var rateLimited *service.RateLimitError
	switch {
	case errors.As(err, &validation):
		h.respondWithError(w, http.StatusBadRequest, validation.Message, validation.Message)
	case errors.As(err, &rateLimited):
		msg := fmt.Sprintf(msgRateLimited, rateLimited.RetryAfterMinutes())
		h.respondWithError(w, http.StatusTooManyRequests, "rate limited", msg)
	case errors.Is(err, service.ErrGateway):
		h.respondWithError(w, http.StatusInternalServerError, "delivery failed", msgSendFailed)
	default:
		h.respondWithError(w, http.StatusInternalServerError, "internal error", "Internal server error")
	}
}

// respondConfirmError maps a ConfirmReset error to its HTTP response. The
// no-record, expired, consumed, exhausted, and wrong-code outcomes all
// produce the same body on purpose; the causes are only distinguished in
// logs and audit events.
func (h *ResetHandler) respondConfirmError(w http.ResponseWriter, err error) {
	var validation *service.ValidationError
	switch {
	case errors.As(err, &validation):
		h.respondWithError(w, http.StatusBadRequest, validation.Message, validation.Message)
	case errors.Is(err, service.ErrInvalidOrExpired),
		errors.Is(err, service.ErrInvalidCode),
		errors.Is(err, service.ErrAttemptsExhausted):
		h.respondWithError(w, http.StatusBadRequest, msgInvalidOTP, msgInvalidOTP)
	case errors.Is(err, service.ErrCredentialUpdate):
		h.respondWithError(w, http.StatusInternalServerError, "update failed", msgUpdateFailed)
	default:
		h.respondWithError(w, http.StatusInternalServerError, "internal error", "Internal server error")
	}
}

// Helper Methods

// respondWithJSON sends a JSON response
func (h *ResetHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response
func (h *ResetHandler) respondWithError(w http.ResponseWriter, statusCode int, errText, message string) {
	h.logger.Warn("HTTP error response",
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(errText, message))
}
