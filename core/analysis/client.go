package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/villagehq/village-core/core/session"
)

const systemPrompt = `You are the analysis layer of a companionship call
service for elders. Given the transcript so far, return updated wellbeing
scores, any concerns, and any new profile facts. Only report what the
conversation supports; mark a concern action-required only when someone
should check on the elder right away.`

// Client calls a chat-completions style endpoint with a structured
// response format and returns the parsed Result.
type Client struct {
	APIKey string
	Model  string
	URL    string

	HTTP *http.Client
}

// NewClient creates an analysis client for the given endpoint.
func NewClient(url, apiKey, model string) *Client {
	return &Client{
		APIKey: apiKey,
		Model:  model,
		URL:    url,
		HTTP:   &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

// Analyze submits the session's transcript for one analysis round.
func (c *Client) Analyze(ctx context.Context, snapshot session.CallSession) (*Result, error) {
	ctx, span := tracer.Start(ctx, "analyze transcript")
	defer span.End()

	messages := []message{{Role: "system", Content: systemPrompt}}
	var prompt strings.Builder
	for _, line := range snapshot.Transcript {
		fmt.Fprintf(&prompt, "%s: %s\n", line.Speaker, line.Text)
	}
	messages = append(messages, message{Role: "user", Content: prompt.String()})

	reqBody := requestBody{
		Model:    c.Model,
		Messages: messages,
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchemaFormat{
				Name:   "Result",
				Schema: ResponseFormat(),
				Strict: true,
			},
		},
	}

	span.SetAttributes(attribute.String("request.model", c.Model))

	requestBodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		err = fmt.Errorf("error marshalling JSON: %w", err)
		span.RecordError(err)
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.URL, bytes.NewBuffer(requestBodyBytes))
	if err != nil {
		err = fmt.Errorf("error creating HTTP request: %w", err)
		span.RecordError(err)
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	client := c.HTTP
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	resp, err := client.Do(req)
	if err != nil {
		err = fmt.Errorf("error sending request: %w", err)
		span.RecordError(err)
		return nil, err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		if errorBody, readErr := io.ReadAll(resp.Body); readErr == nil {
			span.SetAttributes(attribute.String("response.error", string(errorBody)))
		}
		err := fmt.Errorf("non-OK HTTP status: %s", resp.Status)
		span.RecordError(err)
		return nil, err
	}

	respBodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("error reading response body: %w", err)
		span.RecordError(err)
		return nil, err
	}
	var body struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBodyBytes, &body); err != nil {
		err = fmt.Errorf("error unmarshalling response: %w", err)
		span.RecordError(err)
		return nil, err
	}
	if len(body.Choices) == 0 {
		return nil, fmt.Errorf("no choices in analysis response")
	}

	content := body.Choices[0].Message.Content
	split := strings.Split(content, "```")
	if len(split) > 1 {
		content = split[1]
	}
	var result Result
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		err = fmt.Errorf("error unmarshalling analysis result: %w", err)
		span.RecordError(err)
		return nil, err
	}

	return &result, nil
}

type requestBody struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type jsonSchemaFormat struct {
	Name   string `json:"name"`
	Schema any    `json:"schema"`
	Strict bool   `json:"strict"`
}
