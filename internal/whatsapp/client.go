// internal/whatsapp/client.go
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	appErrors "github.com/zapfy/broadcast-backend/internal/errors"
	"github.com/zapfy/broadcast-backend/internal/model"
)

// Sender sends one template message for one recipient.
type Sender interface {
	Send(ctx context.Context, instance *model.Instance, req *SendRequest) (*SendResult, error)
}

type SendRequest struct {
	To           string
	TemplateName string
	Language     string
	BodyValues   []string
	ButtonValues []model.ButtonValue
}

type SendResult struct {
	MessageID string
	SentAt    time.Time
}

// Client talks to the Meta Graph API. A local per-second limiter
// smooths bursts toward the provider's hard throughput cap; the
// campaign-level window limit lives in the worker pool, not here.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ Sender = (*Client)(nil)

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(80), 80),
	}
}

type templateComponent struct {
	Type       string              `json:"type"`
	Parameters []templateParameter `json:"parameters,omitempty"`
	SubType    string              `json:"sub_type,omitempty"`
	Index      string              `json:"index,omitempty"`
}

type templateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type sendPayload struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Template         struct {
		Name     string `json:"name"`
		Language struct {
			Code string `json:"code"`
		} `json:"language"`
		Components []templateComponent `json:"components,omitempty"`
	} `json:"template"`
}

type graphResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send posts a template message. It returns a DispatchError classified
// as transient (network, 429, 5xx) or permanent (every other provider
// rejection) so the worker can decide between retry and terminal
// failure.
func (c *Client) Send(ctx context.Context, instance *model.Instance, req *SendRequest) (*SendResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload := buildPayload(req)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal send payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, instance.PhoneNumberID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build send request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+instance.AccessToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, appErrors.NewTransient(fmt.Sprintf("provider unreachable: %v", err))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	var decoded graphResponse
	_ = json.Unmarshal(respBody, &decoded)

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		desc := fmt.Sprintf("provider returned %d", resp.StatusCode)
		if decoded.Error != nil {
			desc = decoded.Error.Message
		}
		return nil, appErrors.NewTransient(desc)
	}

	if decoded.Error != nil {
		return nil, appErrors.NewPermanent(strconv.Itoa(decoded.Error.Code), decoded.Error.Message)
	}
	if resp.StatusCode >= 400 {
		return nil, appErrors.NewPermanent(strconv.Itoa(resp.StatusCode), string(respBody))
	}

	if len(decoded.Messages) == 0 || decoded.Messages[0].ID == "" {
		// Accepted but unidentifiable; without a wamid the send cannot
		// be tracked, so treat it as retryable.
		return nil, appErrors.NewTransient("provider response missing message id")
	}

	return &SendResult{MessageID: decoded.Messages[0].ID, SentAt: time.Now()}, nil
}

func buildPayload(req *SendRequest) sendPayload {
	var components []templateComponent

	if len(req.BodyValues) > 0 {
		params := make([]templateParameter, 0, len(req.BodyValues))
		for _, v := range req.BodyValues {
			params = append(params, templateParameter{Type: "text", Text: v})
		}
		components = append(components, templateComponent{Type: "body", Parameters: params})
	}

	for _, btn := range req.ButtonValues {
		components = append(components, templateComponent{
			Type:       "button",
			SubType:    "url",
			Index:      strconv.Itoa(btn.Index),
			Parameters: []templateParameter{{Type: "text", Text: btn.Value}},
		})
	}

	p := sendPayload{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               req.To,
		Type:             "template",
	}
	p.Template.Name = req.TemplateName
	p.Template.Language.Code = req.Language
	p.Template.Components = components
	return p
}
