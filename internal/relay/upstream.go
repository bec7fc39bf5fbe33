package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/reviewmate/internal/apperr"
)

// upstreamExcerptChars bounds the body excerpt of a failed stream request.
const upstreamExcerptChars = 300

type eventKind int

const (
	eventNone eventKind = iota
	eventDelta
	eventDone
	eventError
)

type streamEvent struct {
	kind eventKind
	text string
}

// wireFormat is one upstream streaming protocol.
type wireFormat struct {
	path       string
	promptRole string
	body       func(model string, msgs []ChatMessage) interface{}
	decode     func(data string) streamEvent
}

var formats = map[string]wireFormat{
	ModeResponses: {
		path:       "/responses",
		promptRole: "developer",
		body: func(model string, msgs []ChatMessage) interface{} {
			return map[string]interface{}{"model": model, "input": msgs, "stream": true}
		},
		decode: decodeResponsesEvent,
	},
	ModeChatCompletions: {
		path:       "/chat/completions",
		promptRole: "system",
		body: func(model string, msgs []ChatMessage) interface{} {
			return map[string]interface{}{"model": model, "messages": msgs, "stream": true}
		},
		decode: decodeChatChunk,
	},
}

func formatFor(mode string) wireFormat {
	if f, ok := formats[mode]; ok {
		return f
	}
	return formats[ModeResponses]
}

type responsesEvent struct {
	Type  string          `json:"type"`
	Delta json.RawMessage `json:"delta"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func decodeResponsesEvent(data string) streamEvent {
	if data == DoneSentinel {
		return streamEvent{kind: eventDone}
	}
	var evt responsesEvent
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		return streamEvent{}
	}
	switch evt.Type {
	case "response.output_text.delta":
		var text string
		if err := json.Unmarshal(evt.Delta, &text); err != nil || text == "" {
			return streamEvent{}
		}
		return streamEvent{kind: eventDelta, text: text}
	case "response.completed", "response.done":
		return streamEvent{kind: eventDone}
	case "error":
		msg := "stream error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		return streamEvent{kind: eventError, text: msg}
	}
	return streamEvent{}
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func decodeChatChunk(data string) streamEvent {
	if data == DoneSentinel {
		return streamEvent{kind: eventDone}
	}
	var chunk chatChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return streamEvent{}
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == nil || *chunk.Choices[0].Delta.Content == "" {
		return streamEvent{}
	}
	return streamEvent{kind: eventDelta, text: *chunk.Choices[0].Delta.Content}
}

func setAuthHeaders(req *http.Request, s Settings) {
	req.Header.Set("Authorization", "Bearer "+s.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if s.OrgID != "" {
		req.Header.Set("OpenAI-Organization", s.OrgID)
	}
	if s.ProjectID != "" {
		req.Header.Set("OpenAI-Project", s.ProjectID)
	}
}

// newStreamRequest builds the upstream call, prepending the developer prompt
// when one is configured.
func newStreamRequest(ctx context.Context, s Settings, msgs []ChatMessage) (*http.Request, wireFormat, error) {
	f := formatFor(s.Mode)
	all := make([]ChatMessage, 0, len(msgs)+1)
	if s.DeveloperPrompt != "" {
		all = append(all, ChatMessage{Role: f.promptRole, Content: s.DeveloperPrompt})
	}
	all = append(all, msgs...)

	payload, err := json.Marshal(f.body(s.Model, all))
	if err != nil {
		return nil, f, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint(f.path), bytes.NewReader(payload))
	if err != nil {
		return nil, f, fmt.Errorf("failed to create request: %w", err)
	}
	setAuthHeaders(req, s)
	req.Header.Set("Accept", "text/event-stream")
	return req, f, nil
}

// httpError reads a bounded excerpt of a failed response.
func httpError(resp *http.Response, maxExcerpt int) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, int64(maxExcerpt)*4))
	text := http.StatusText(resp.StatusCode)
	return apperr.HTTP("", resp.StatusCode, text, string(body), maxExcerpt)
}
