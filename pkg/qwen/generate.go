package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Wire types for the DashScope text-generation endpoint.

type generationRequest struct {
	Model      string               `json:"model"`
	Input      generationInput      `json:"input"`
	Parameters generationParameters `json:"parameters"`
}

type generationInput struct {
	Messages []Message `json:"messages"`
}

type generationParameters struct {
	Temperature       float64 `json:"temperature"`
	MaxTokens         int     `json:"max_tokens"`
	TopP              float64 `json:"top_p"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
	IncrementalOutput bool    `json:"incremental_output,omitempty"`
}

type generationResponse struct {
	Output struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"output"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Generate sends the message history upstream and returns the complete
// response text.
func (c *Client) Generate(ctx context.Context, messages []Message, params *Params) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.timeout)
	defer cancel()

	resp, err := c.do(ctx, messages, params, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("qwen: read response: %w", classify(err))
	}
	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp.StatusCode, body)
	}

	var out generationResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("qwen: decode response: %w", err)
	}
	return out.Output.Text, nil
}

// do issues the generation request. The caller owns the response body.
func (c *Client) do(ctx context.Context, messages []Message, params *Params, stream bool) (*http.Response, error) {
	p := params.withDefaults()
	reqBody := generationRequest{
		Model: c.config.model,
		Input: generationInput{Messages: messages},
		Parameters: generationParameters{
			Temperature:       p.Temperature,
			MaxTokens:         p.MaxTokens,
			TopP:              p.TopP,
			RepetitionPenalty: p.RepetitionPenalty,
			IncrementalOutput: stream,
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("qwen: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.baseURL+generationPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("qwen: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("X-DashScope-SSE", "enable")
	}

	resp, err := c.config.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qwen: request: %w", classify(err))
	}
	return resp, nil
}

// apiError builds a typed error from a non-200 response body.
func apiError(status int, body []byte) error {
	e := &Error{HTTPStatus: status}
	var parsed struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		e.Code = parsed.Code
		e.Message = parsed.Message
		e.RequestID = parsed.RequestID
	}
	if e.Message == "" {
		e.Message = string(body)
	}
	return e
}

// classify maps transport-level failures to the package sentinels.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %s", ErrUnavailable, err)
}
