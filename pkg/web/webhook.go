package web

import (
	"encoding/json"
	"strings"

	"github.com/dukex/siteflow/pkg/models"
	"github.com/dukex/siteflow/pkg/workflow"
	"github.com/gofiber/fiber/v3"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"

	webhookBodyKey    = "body"
	webhookHeadersKey = "headers"
	webhookQueryKey   = "query"
)

// ReceiveWebhook turns an inbound HTTP call into a webhook trigger of the site.
// Top-level fields of a JSON object body become payload fields so trigger
// filters can match them; the raw body, headers and query are kept too.
func (h *APIHandlers) ReceiveWebhook(c fiber.Ctx) error {
	siteID := c.Params("siteId")
	if siteID == "" {
		return badRequest(c, "Site ID is required")
	}

	payload, err := webhookPayload(c)
	if err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	ids, err := h.executionService.Dispatch(c.Context(), siteID, models.TriggerWebhook, payload)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(DispatchEventResponse{ExecutionIDs: ids})
}

func webhookPayload(c fiber.Ctx) (map[string]any, error) {
	payload := map[string]any{}

	var body any

	if raw := c.Body(); len(raw) > 0 {
		if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
			body = string(raw)
		} else if err := json.Unmarshal(raw, &body); err != nil {
			return nil, err
		}
	}

	if fields, ok := body.(map[string]any); ok {
		for key, value := range fields {
			payload[key] = value
		}
	}

	headers := map[string]any{}
	for key, values := range c.GetReqHeaders() {
		if len(values) > 0 {
			headers[strings.ToLower(key)] = values[0]
		}
	}

	query := map[string]any{}
	for key, value := range c.Queries() {
		query[key] = value
	}

	payload[webhookBodyKey] = body
	payload[webhookHeadersKey] = headers
	payload[webhookQueryKey] = query

	if key := c.Get(IdempotencyKeyHeader); key != "" {
		payload[workflow.IdempotencyKeyField] = key
	}

	return payload, nil
}
