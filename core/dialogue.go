package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/matlowai/local-voice-ai/core/llms"
	"github.com/matlowai/local-voice-ai/core/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// dialogue wraps the language model: it streams one reply per finalized
// turn, resolves tool calls, checks for cancellation between chunks and
// reports generation metrics.
type dialogue struct {
	client       DialogueModel
	instructions string
	tools        []llms.Tool

	bus *metrics.Bus
}

func (d *dialogue) isConfigured() bool {
	return d != nil && d.client != nil
}

// generate streams the reply for one turn, feeding chunks to onChunk in
// order. It returns early with a nil response when cancelled reports true;
// chunks received after that never reach onChunk.
func (d *dialogue) generate(
	ctx context.Context,
	requestID string,
	history []llms.Turn,
	onChunk func(string),
	cancelled func() bool,
) (*llms.Response, error) {
	if !d.isConfigured() {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "generate reply")
	defer span.End()

	startedAt := time.Now()
	var firstTokenAt time.Time
	var usage *llms.Usage
	wasCancelled := false

	defer func() {
		d.reportMetrics(requestID, startedAt, firstTokenAt, usage, wasCancelled)
	}()

	turn := llms.Turn{Role: llms.RoleAssistant}
	for {
		stream := d.client.PromptWithStream(ctx,
			llms.WithInstructions(d.instructions),
			llms.WithTurns(append(append([]llms.Turn(nil), history...), turn)...),
			llms.WithTools(d.tools...),
		)

		var message strings.Builder
		var toolCalls []llms.ToolCall
		for chunk, err := range stream.Chunks(ctx) {
			if err != nil {
				err = fmt.Errorf("failed to stream reply: %w", err)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}

			if cancelled != nil && cancelled() {
				wasCancelled = true
				return nil, nil
			}

			switch chunk := chunk.(type) {
			case llms.StreamContentChunk:
				if firstTokenAt.IsZero() {
					firstTokenAt = time.Now()
				}
				message.WriteString(chunk.Content())
				if onChunk != nil {
					onChunk(chunk.Content())
				}

			case llms.StreamToolCallChunk:
				toolCalls = append(toolCalls, chunk.ToolCall())

			case llms.StreamUsageChunk:
				chunkUsage := chunk.Usage()
				usage = &chunkUsage
			}
		}

		// A cancellation can also land while the stream winds down; a
		// cancelled generation must not produce a response.
		if cancelled != nil && cancelled() {
			wasCancelled = true
			return nil, nil
		}

		for _, toolCall := range toolCalls {
			response, err := d.callTool(ctx, toolCall)
			if err != nil {
				err = fmt.Errorf("failed to call tool: %w", err)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			toolCall.Response = response
			turn.ToolCalls = append(turn.ToolCalls, toolCall)
		}

		if len(toolCalls) == 0 {
			return &llms.Response{
				Content:   message.String(),
				ToolCalls: turn.ToolCalls,
			}, nil
		}
	}
}

func (d *dialogue) callTool(ctx context.Context, toolCall llms.ToolCall) (string, error) {
	_, span := tracer.Start(ctx, "call tool")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", toolCall.Name))

	for _, tool := range d.tools {
		if tool.Name != toolCall.Name {
			continue
		}

		response, err := tool.Execute(toolCall.Arguments)
		if err != nil {
			return "", fmt.Errorf("tool %q failed: %w", toolCall.Name, err)
		}
		return response, nil
	}

	return "", fmt.Errorf("unknown tool %q", toolCall.Name)
}

func (d *dialogue) reportMetrics(
	requestID string,
	startedAt time.Time,
	firstTokenAt time.Time,
	usage *llms.Usage,
	cancelled bool,
) {
	duration := time.Since(startedAt).Seconds()

	metric := metrics.LLMMetric{
		Label:     "dialogue",
		RequestID: requestID,
		Timestamp: metrics.At(startedAt),
		Duration:  duration,
		Cancelled: cancelled,
	}
	if !firstTokenAt.IsZero() {
		ttft := firstTokenAt.Sub(startedAt).Seconds()
		metric.TimeToFirstToken = &ttft
	}
	if usage != nil {
		completion, prompt, total := usage.CompletionTokens, usage.PromptTokens, usage.TotalTokens
		metric.CompletionTokenCount = &completion
		metric.PromptTokenCount = &prompt
		metric.TotalTokenCount = &total
		if duration > 0 {
			tokensPerSecond := float64(completion) / duration
			metric.TokensPerSecond = &tokensPerSecond
		}
	}

	d.bus.Report(metric)
}
