package handler

import (
	"io"
	"net/http"

	"paywall/internal/api/v1/dto"
	"paywall/internal/service"

	"github.com/rs/zerolog"
)

// maxWebhookBody caps what we read from the provider.
const maxWebhookBody = 1 << 20

// WebhookHandler receives provider notifications. It is not behind user auth;
// the signature check in the service authenticates the sender.
type WebhookHandler struct {
	subSvc service.SubscriptionService
	logger zerolog.Logger
}

func NewWebhookHandler(subSvc service.SubscriptionService, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{subSvc: subSvc, logger: logger}
}

func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/webhooks/paypal", h.PayPal)
}

// PayPal godoc
// @Summary Provider webhook
// @Description Verifies and applies a payment notification. Non-2xx responses make the provider redeliver.
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} dto.WebhookAckDTO
// @Failure 401 {object} dto.ErrorResponseDTO
// @Failure 500 {object} dto.ErrorResponseDTO
// @Router /webhooks/paypal [post]
func (h *WebhookHandler) PayPal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeBadRequest(w, h.logger, "unreadable webhook body")
		return
	}

	outcome, err := h.subSvc.HandleWebhook(r.Context(), r.Header, body)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, dto.WebhookAckDTO{Status: string(outcome)})
}
