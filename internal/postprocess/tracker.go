// Package postprocess — webhook-backed TaskTracker.
package postprocess

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"chatarchiver/internal/errs"
)

// WebhookTracker posts a task to a single configurable webhook URL
// expecting a JSON body and returning a JSON object with an "id" field.
// Grounded on the pack's resty client configuration: fixed timeout,
// bounded retries on 5xx/transport errors, base URL fixed at
// construction.
type WebhookTracker struct {
	client *resty.Client
}

// NewWebhookTracker builds a WebhookTracker posting to webhookURL.
func NewWebhookTracker(webhookURL string) *WebhookTracker {
	client := resty.New()
	client.SetBaseURL(webhookURL)
	client.SetTimeout(30 * time.Second)
	client.SetRetryCount(3)
	client.SetRetryWaitTime(1 * time.Second)
	client.SetRetryMaxWaitTime(10 * time.Second)
	client.SetHeader("Content-Type", "application/json")
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return r.StatusCode() >= 500
	})
	return &WebhookTracker{client: client}
}

type createTaskRequest struct {
	RequestID string `json:"request_id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
}

type createTaskResponse struct {
	ID string `json:"id"`
}

// CreateTask implements TaskTracker. RequestID is a fresh UUID per call,
// letting the receiving webhook deduplicate retried deliveries.
func (w *WebhookTracker) CreateTask(ctx context.Context, title, body string) (string, error) {
	reqBody := createTaskRequest{
		RequestID: uuid.NewString(),
		Title:     title,
		Body:      body,
	}

	var result createTaskResponse
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(reqBody).
		SetResult(&result).
		Post("")
	if err != nil {
		return "", fmt.Errorf("%w: webhook request: %v", errs.ErrGatewayTransport, err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return "", fmt.Errorf("%w: webhook returned status %d: %s", errs.ErrGatewayTransport, resp.StatusCode(), resp.String())
	}
	if result.ID == "" {
		return "", fmt.Errorf("%w: webhook response missing task id", errs.ErrGatewayTransport)
	}
	return result.ID, nil
}
