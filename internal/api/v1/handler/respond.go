package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"paywall/internal/api/v1/dto"
	"paywall/internal/gateway"
	"paywall/internal/service"

	"github.com/rs/zerolog"
)

func writeJSON(w http.ResponseWriter, logger zerolog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error().Err(err).Msg("failed to encode response")
	}
}

// statusFor maps service and gateway errors to an HTTP status and a reason code.
func statusFor(err error) (int, string) {
	var (
		validationErr *service.ValidationError
		conflictErr   *service.StateConflictError
		gatewayErr    *gateway.GatewayError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "validation_error"
	case errors.As(err, &conflictErr):
		return http.StatusBadRequest, string(conflictErr.Reason)
	case errors.As(err, &gatewayErr):
		if gatewayErr.Cause == gateway.CauseRateLimited {
			return http.StatusTooManyRequests, string(gatewayErr.Cause)
		}
		return http.StatusBadGateway, string(gatewayErr.Cause)
	case errors.Is(err, service.ErrVerificationFailure):
		return http.StatusUnauthorized, "verification_failed"
	case errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound, "user_not_found"
	case errors.Is(err, service.ErrUserAlreadyExists):
		return http.StatusConflict, "user_exists"
	default:
		return http.StatusInternalServerError, ""
	}
}

func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	status, reason := statusFor(err)
	msg := err.Error()
	switch {
	case status == http.StatusBadGateway:
		// Provider details stay in the logs.
		logger.Error().Err(err).Msg("payment provider call failed")
		msg = "payment provider unavailable"
	case status >= http.StatusInternalServerError:
		logger.Error().Err(err).Msg("request failed")
		msg = "internal server error"
	}
	writeJSON(w, logger, status, dto.ErrorResponseDTO{Error: msg, Reason: reason})
}

func writeBadRequest(w http.ResponseWriter, logger zerolog.Logger, msg string) {
	writeJSON(w, logger, http.StatusBadRequest, dto.ErrorResponseDTO{Error: msg, Reason: "validation_error"})
}
