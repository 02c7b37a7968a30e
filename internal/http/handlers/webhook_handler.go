// Gateway webhook handler.
//
// The gateway retries any delivery not answered with 2xx, so the status code
// is part of the contract: business outcomes (processed, duplicate, skipped,
// rejected) are acknowledged with 200, malformed bodies get 400 because a
// retry cannot help, and store failures or timeouts get 503 to ask for one.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-billing-reconciler/internal/domain"
	"github.com/tbourn/go-billing-reconciler/internal/http/middleware"
	"github.com/tbourn/go-billing-reconciler/internal/services"
)

// Webhook response statuses.
const (
	WebhookStatusProcessed = "processed"
	WebhookStatusDuplicate = "duplicate"
	WebhookStatusError     = "error"
)

// WebhookResponse is the acknowledgement returned to the gateway.
type WebhookResponse struct {
	Status  string `json:"status"            example:"processed"`
	Message string `json:"message,omitempty" example:"unknown payment"`
}

// ReceiveWebhook godoc
// @ID          receiveGatewayWebhook
// @Summary     Receive a gateway event
// @Description Logs, deduplicates and applies one payment or subscription event.
// @Description Business outcomes are acknowledged with 200; 503 asks the gateway to retry.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       X-Webhook-Token  header  string  false  "Shared webhook secret"
// @Param       body             body    object  true   "Gateway event payload"
//
// @Success     200  {object}  handlers.WebhookResponse
// @Failure     400  {object}  handlers.WebhookResponse  "Malformed event"
// @Failure     401  {object}  handlers.WebhookResponse  "Invalid webhook token"
// @Failure     413  {object}  handlers.WebhookResponse  "Payload too large"
// @Failure     503  {object}  handlers.WebhookResponse  "Transient failure, retry"
// @Router      /webhooks/gateway [post]
func (h *Handlers) ReceiveWebhook(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, WebhookResponse{Status: WebhookStatusError, Message: "payload too large"})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, WebhookResponse{Status: WebhookStatusError, Message: "unreadable body"})
		return
	}

	lg := middleware.LoggerFrom(c).With().Str("actor", domain.SystemActor).Logger()
	ctx := lg.WithContext(c.Request.Context())

	out, err := h.webhooks.Process(ctx, raw)
	if err != nil {
		status, resp := webhookFailure(err)
		ev := lg.Warn()
		if status >= http.StatusInternalServerError {
			ev = lg.Error()
		}
		ev.Err(err).Str("webhook_log_id", out.LogID).Int("status", status).Msg("webhook not processed")
		c.JSON(status, resp)
		return
	}

	c.JSON(http.StatusOK, webhookAck(out))
	lg.Debug().Str("outcome", string(out.Status)).Str("webhook_log_id", out.LogID).Msg("webhook acknowledged")
}

// webhookAck renders a successful outcome. Skips are acknowledged as
// processed with the reason; rejections are final and reported as errors.
func webhookAck(out services.Outcome) WebhookResponse {
	switch out.Status {
	case domain.OutcomeDuplicate:
		return WebhookResponse{Status: WebhookStatusDuplicate, Message: "event already processed"}
	case domain.OutcomeSkipped:
		return WebhookResponse{Status: WebhookStatusProcessed, Message: out.Reason}
	case domain.OutcomeRejected:
		return WebhookResponse{Status: WebhookStatusError, Message: out.Reason}
	default:
		return WebhookResponse{Status: WebhookStatusProcessed, Message: out.Reason}
	}
}

func webhookFailure(err error) (int, WebhookResponse) {
	switch {
	case errors.Is(err, services.ErrMalformedEvent):
		return http.StatusBadRequest, WebhookResponse{Status: WebhookStatusError, Message: "malformed event"}
	case errors.Is(err, services.ErrTimeout):
		return http.StatusServiceUnavailable, WebhookResponse{Status: WebhookStatusError, Message: domain.ReasonTimeout}
	default:
		return http.StatusServiceUnavailable, WebhookResponse{Status: WebhookStatusError, Message: "temporarily unavailable"}
	}
}
