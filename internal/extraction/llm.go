package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/accordo-ai/accordo/internal/model"
)

// LLMExtractor calls an OpenAI-compatible chat-completions API and asks for
// the offer as strict JSON. The model is a black box here: any transport
// error, non-200 status, or unparseable reply is simply an error the chain
// recovers from.
type LLMExtractor struct {
	client *resty.Client
	model  string
}

// NewLLMExtractor creates an extractor against an OpenAI-compatible baseURL.
func NewLLMExtractor(baseURL, apiKey, llmModel string, timeout time.Duration) *LLMExtractor {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &LLMExtractor{client: client, model: llmModel}
}

const extractionPrompt = `Extract the commercial offer from the vendor message below.
Respond with ONLY a JSON object, no prose, with these optional keys:
  "price": number (total price, no currency symbol)
  "payment_term_days": integer (net payment days)
  "delivery_date": string (ISO 8601 date)
Omit any key the message does not state.`

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type extractedOffer struct {
	Price           *float64 `json:"price"`
	PaymentTermDays *int     `json:"payment_term_days"`
	DeliveryDate    *string  `json:"delivery_date"`
}

// Extract sends the vendor message to the LLM and parses the JSON reply.
func (e *LLMExtractor) Extract(ctx context.Context, message string, _ model.NegotiationConfig) (model.Offer, error) {
	var result chatResponse
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model: e.model,
			Messages: []chatMessage{
				{Role: "system", Content: extractionPrompt},
				{Role: "user", Content: message},
			},
			Temperature: 0,
		}).
		SetResult(&result).
		Post("/v1/chat/completions")
	if err != nil {
		return model.Offer{}, fmt.Errorf("llm: send request: %w", err)
	}
	if resp.IsError() {
		return model.Offer{}, fmt.Errorf("llm: status %d: %s", resp.StatusCode(), resp.String())
	}
	if result.Error != nil {
		return model.Offer{}, fmt.Errorf("llm: api error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return model.Offer{}, fmt.Errorf("llm: empty completion")
	}

	return parseOfferJSON(result.Choices[0].Message.Content)
}

// parseOfferJSON decodes the model's reply, tolerating markdown code fences.
func parseOfferJSON(content string) (model.Offer, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var raw extractedOffer
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return model.Offer{}, fmt.Errorf("llm: decode offer JSON: %w", err)
	}

	var offer model.Offer
	if raw.Price != nil {
		p := decimal.NewFromFloat(*raw.Price)
		offer.Price = &p
	}
	if raw.PaymentTermDays != nil {
		offer.PaymentTermDays = raw.PaymentTermDays
	}
	if raw.DeliveryDate != nil {
		t, err := time.Parse("2006-01-02", *raw.DeliveryDate)
		if err != nil {
			t, err = time.Parse(time.RFC3339, *raw.DeliveryDate)
		}
		if err != nil {
			return model.Offer{}, fmt.Errorf("llm: parse delivery date %q: %w", *raw.DeliveryDate, err)
		}
		offer.DeliveryDate = &t
	}

	if offer.Price == nil && offer.PaymentTermDays == nil && offer.DeliveryDate == nil {
		return model.Offer{}, fmt.Errorf("llm: no attributes extracted")
	}
	return offer, nil
}
