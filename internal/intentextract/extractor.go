package intentextract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/restockhq/restock-backend/pkg/config"
	pkgerrors "github.com/restockhq/restock-backend/pkg/errors"
)

// Draft is a structured intent extracted from free text. It is a proposal,
// not a persisted intent; the intent service validates it on create.
type Draft struct {
	Title         string          `json:"title"`
	ProductRef    string          `json:"product_ref"`
	CadenceDays   int             `json:"cadence_days"`
	PriceCapCents *int64          `json:"price_cap_cents,omitempty"`
	Constraints   json.RawMessage `json:"constraints,omitempty"`
}

// Result carries either a usable draft or a clarification question for the
// user, never both.
type Result struct {
	Draft         *Draft `json:"draft,omitempty"`
	Clarification string `json:"clarification,omitempty"`
}

// Extractor turns free text into an intent draft.
type Extractor interface {
	Extract(ctx context.Context, text string) (*Result, error)
}

const systemPrompt = `You extract recurring purchase requests into JSON. ` +
	`Given the user's message, respond with a single JSON object: ` +
	`{"title": string, "product_ref": string (product URL or unambiguous product name), ` +
	`"cadence_days": integer, "price_cap_cents": integer or null, ` +
	`"constraints": object or null, "clarification": string or null}. ` +
	`If the message is missing the product or the cadence, set clarification ` +
	`to one short question and leave the other fields null. Respond with JSON only.`

// Client calls an OpenAI-compatible chat completion endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient builds an extractor client from config.
func NewClient(cfg config.ExtractorConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("extractor base url required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("extractor model required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// extraction is the model's raw answer shape.
type extraction struct {
	Title         *string         `json:"title"`
	ProductRef    *string         `json:"product_ref"`
	CadenceDays   *int            `json:"cadence_days"`
	PriceCapCents *int64          `json:"price_cap_cents"`
	Constraints   json.RawMessage `json:"constraints"`
	Clarification *string         `json:"clarification"`
}

// Extract runs one completion and parses the answer. A model answer that
// asks for clarification is a valid Result, not an error.
func (c *Client) Extract(ctx context.Context, text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "text is required")
	}

	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode extraction request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build extraction request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "extractor request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("extractor status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode extractor response")
	}
	if len(chat.Choices) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "extractor returned no choices")
	}

	return parseAnswer(chat.Choices[0].Message.Content)
}

func parseAnswer(content string) (*Result, error) {
	var answer extraction
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &answer); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "parse extractor answer")
	}

	if answer.Clarification != nil && strings.TrimSpace(*answer.Clarification) != "" {
		return &Result{Clarification: strings.TrimSpace(*answer.Clarification)}, nil
	}

	draft := &Draft{
		PriceCapCents: answer.PriceCapCents,
		Constraints:   answer.Constraints,
	}
	if answer.Title != nil {
		draft.Title = strings.TrimSpace(*answer.Title)
	}
	if answer.ProductRef != nil {
		draft.ProductRef = strings.TrimSpace(*answer.ProductRef)
	}
	if answer.CadenceDays != nil {
		draft.CadenceDays = *answer.CadenceDays
	}

	if draft.ProductRef == "" || draft.CadenceDays <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "extractor answer missing product or cadence")
	}
	if draft.Title == "" {
		draft.Title = draft.ProductRef
	}
	return &Result{Draft: draft}, nil
}
