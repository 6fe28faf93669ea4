package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/jinzhu/copier"
	"github.com/matlowai/local-voice-ai/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	chunkPrefix = "data: "
	endMessage  = "[DONE]"
)

// PromptWithStream prepares a streaming chat completion. The request is not
// sent until Chunks is consumed.
func (c *Client) PromptWithStream(_ context.Context, opts ...llms.PromptOption) llms.Stream {
	options := llms.PromptOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	var tools []tool
	for _, t := range options.Tools {
		var function toolFunction
		copier.Copy(&function, t)
		tools = append(tools, tool{Type: "function", Function: function})
	}

	return &Stream{
		client:   c,
		tools:    tools,
		messages: toMessages(options.Instructions, options.Turns),
	}
}

type Stream struct {
	client *Client

	tools    []tool
	messages []message
}

type requestBody struct {
	Model         string         `json:"model"`
	Messages      []message      `json:"messages"`
	Stream        bool           `json:"stream"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
	Tools         []tool         `json:"tools,omitempty"`
	ToolChoice    *string        `json:"tool_choice,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type streamingResponseBody struct {
	Choices []struct {
		Delta struct {
			Content   string     `json:"content"`
			ToolCalls []toolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (s *Stream) Chunks(ctx context.Context) iter.Seq2[llms.StreamChunk, error] {
	requestStarted := time.Time{}
	recordFirstToken := func(span trace.Span) {
		if requestStarted.IsZero() {
			return
		}
		span.SetAttributes(attribute.Float64("response.request_to_first_token_time", time.Since(requestStarted).Seconds()))
		span.AddEvent("received first chunk")
		requestStarted = time.Time{}
	}

	return func(yield func(llms.StreamChunk, error) bool) {
		ctx, span := tracer.Start(ctx, "prompt llm stream")
		defer span.End()
		span.SetAttributes(attribute.String("request.model", s.client.model))

		var toolChoice *string
		if len(s.tools) > 0 {
			auto := "auto"
			toolChoice = &auto
		}

		reqBody := requestBody{
			Model:         s.client.model,
			Messages:      s.messages,
			Stream:        true,
			StreamOptions: &streamOptions{IncludeUsage: true},
			Tools:         s.tools,
			ToolChoice:    toolChoice,
		}

		requestBodyBytes, err := json.Marshal(reqBody)
		if err != nil {
			err = fmt.Errorf("error marshalling JSON: %w", err)
			span.RecordError(err)
			yield(nil, err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			strings.TrimSuffix(s.client.baseURL, "/")+"/chat/completions",
			bytes.NewBuffer(requestBodyBytes))
		if err != nil {
			err = fmt.Errorf("error creating HTTP request: %w", err)
			span.RecordError(err)
			yield(nil, err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if s.client.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+s.client.apiKey)
		}

		span.SetAttributes(attribute.String("request.url", req.URL.String()))
		requestStarted = time.Now()
		span.AddEvent("request started")
		resp, err := s.client.httpClient.Do(req)
		if err != nil {
			err = fmt.Errorf("error sending request: %w", err)
			span.RecordError(err)
			yield(nil, err)
			return
		}
		defer resp.Body.Close()

		span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
		if resp.StatusCode != http.StatusOK {
			if errorBody, readErr := io.ReadAll(resp.Body); readErr == nil {
				span.SetAttributes(attribute.String("response.error", string(errorBody)))
			}
			err := fmt.Errorf("non-OK HTTP status: %s", resp.Status)
			span.RecordError(err)
			yield(nil, err)
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			chunk := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), chunkPrefix))
			recordFirstToken(span)

			if len(chunk) == 0 {
				continue
			}
			if chunk == endMessage {
				break
			}

			var responseBody streamingResponseBody
			if err := json.Unmarshal([]byte(chunk), &responseBody); err != nil {
				err = fmt.Errorf("error unmarshalling JSON: %w", err)
				span.RecordError(err)
				if !yield(nil, err) {
					return
				}
				continue
			}

			if len(responseBody.Choices) > 0 {
				choice := responseBody.Choices[0]

				for _, tCall := range choice.Delta.ToolCalls {
					if !yield(streamToolCallChunk{
						finishReason: choice.FinishReason,
						toolCall: llms.ToolCall{
							ID:        tCall.ID,
							Name:      tCall.Function.Name,
							Arguments: tCall.Function.Arguments,
						},
					}, nil) {
						return
					}
				}

				if choice.Delta.Content != "" {
					if !yield(streamContentChunk{
						finishReason: choice.FinishReason,
						content:      choice.Delta.Content,
					}, nil) {
						return
					}
				}
			}

			if responseBody.Usage != nil {
				span.SetAttributes(
					attribute.Int("usage.prompt", responseBody.Usage.PromptTokens),
					attribute.Int("usage.completion", responseBody.Usage.CompletionTokens),
					attribute.Int("usage.total", responseBody.Usage.TotalTokens),
				)
				if !yield(streamUsageChunk{usage: llms.Usage{
					PromptTokens:     responseBody.Usage.PromptTokens,
					CompletionTokens: responseBody.Usage.CompletionTokens,
					TotalTokens:      responseBody.Usage.TotalTokens,
				}}, nil) {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			err = fmt.Errorf("error reading stream: %w", err)
			span.RecordError(err)
			yield(nil, err)
		}
	}
}

type streamContentChunk struct {
	finishReason *string
	content      string
}

func (c streamContentChunk) FinishReason() *string { return c.finishReason }
func (c streamContentChunk) Content() string       { return c.content }

type streamToolCallChunk struct {
	finishReason *string
	toolCall     llms.ToolCall
}

func (c streamToolCallChunk) FinishReason() *string  { return c.finishReason }
func (c streamToolCallChunk) ToolCall() llms.ToolCall { return c.toolCall }

type streamUsageChunk struct {
	usage llms.Usage
}

func (c streamUsageChunk) FinishReason() *string { return nil }
func (c streamUsageChunk) Usage() llms.Usage     { return c.usage }
