// Package extract calls an OpenAI-compatible chat completions endpoint to
// pull structured terms out of contract documents.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/config"
)

// Client is an OpenAI-compatible chat completions client.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewClient returns nil when extraction is not configured; callers treat a
// nil client as the feature being off.
func NewClient(cfg config.ExtractConfig) *Client {
	if cfg.BaseURL == "" || cfg.APIKey == "" || cfg.Model == "" {
		return nil
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// ContractTerms is the structured result of a document extraction.
type ContractTerms struct {
	Counterparty  string   `json:"counterparty,omitempty"`
	EffectiveDate string   `json:"effective_date,omitempty"`
	EndDate       string   `json:"end_date,omitempty"`
	TotalCents    int64    `json:"total_cents,omitempty"`
	PaymentTerms  string   `json:"payment_terms,omitempty"`
	Deliverables  []string `json:"deliverables,omitempty"`
	Exclusivity   string   `json:"exclusivity,omitempty"`
	UsageRights   string   `json:"usage_rights,omitempty"`
}

const systemPrompt = `You extract contract terms from influencer marketing agreements.
Respond with a JSON object using these keys when present in the text:
counterparty, effective_date (YYYY-MM-DD), end_date (YYYY-MM-DD),
total_cents (integer, USD cents), payment_terms, deliverables (array of
strings), exclusivity, usage_rights. Omit keys you cannot find.`

// ExtractTerms runs the document text through the model and parses the
// structured response.
func (c *Client) ExtractTerms(ctx context.Context, text string) (*ContractTerms, error) {
	raw, err := c.generate(ctx, systemPrompt, text)
	if err != nil {
		return nil, err
	}
	var terms ContractTerms
	if err := json.Unmarshal([]byte(raw), &terms); err != nil {
		return nil, apperror.Integration("Extraction returned malformed JSON")
	}
	return &terms, nil
}

type chatRequest struct {
	Model          string        `json:"model"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat responseFmt   `json:"response_format"`
	Messages       []chatMessage `json:"messages"`
}

type responseFmt struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) generate(ctx context.Context, system, user string) (string, error) {
	url := c.baseURL + "/chat/completions"

	body := chatRequest{
		Model:          c.model,
		Temperature:    0.1,
		ResponseFormat: responseFmt{Type: "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", apperror.Integration("Failed to marshal extraction request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", apperror.Integration("Failed to create extraction request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", apperror.Integration(fmt.Sprintf("Failed to reach extraction provider: %v", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperror.Integration("Failed to read extraction response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		detail := string(respBody)
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			detail = apiErr.Error.Message
		}
		return "", apperror.Integration(fmt.Sprintf("Extraction provider returned %d: %s", resp.StatusCode, detail))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", apperror.Integration("Failed to parse extraction response")
	}
	if len(chatResp.Choices) == 0 || chatResp.Choices[0].Message.Content == "" {
		return "", apperror.Integration("Extraction provider returned an empty response")
	}
	return chatResp.Choices[0].Message.Content, nil
}
