package stream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"voicechat-be/pkg/llm"
)

// Local transcript roles. These are the only roles the exchange accepts;
// translation to the backend's role encoding happens here and nowhere else.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

var ErrRoleUnknown = fmt.Errorf("unknown transcript role")

// Turn is one prior message of the conversation, in local role encoding.
type Turn struct {
	Role    string
	Content string
}

// Sink receives the exchange's live side channels. OnFragment is called
// once per fragment in arrival order; OnRate is called after each
// fragment with the current throughput estimate. Neither call may block
// fragment delivery for long; implementations should be cheap.
type Sink interface {
	OnFragment(text string)
	OnRate(tokensPerSecond float64)
}

// Exchange drives one request/response round trip against the
// generation backend.
type Exchange struct {
	provider llm.LLMProvider
	now      func() time.Time
}

func NewExchange(provider llm.LLMProvider) *Exchange {
	return &Exchange{
		provider: provider,
		now:      time.Now,
	}
}

// TranslateHistory maps local transcript roles onto the provider-agnostic
// encoding (user -> user, model -> assistant). Any other role is invalid
// input.
func TranslateHistory(turns []Turn) ([]llm.Message, error) {
	messages := make([]llm.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case RoleUser:
			messages = append(messages, llm.Message{Role: "user", Content: turn.Content})
		case RoleModel:
			messages = append(messages, llm.Message{Role: "assistant", Content: turn.Content})
		default:
			return nil, fmt.Errorf("%w: %q", ErrRoleUnknown, turn.Role)
		}
	}
	return messages, nil
}

// systemInstruction carries environment facts computed at call time,
// never cached across calls, so the model can answer date/time questions.
func systemInstruction(now time.Time) string {
	var b strings.Builder
	b.WriteString("You are a helpful, attentive assistant.\n")
	fmt.Fprintf(&b, "Context: today is %s and the exact time is %s.\n",
		now.Format("Monday, January 2, 2006"),
		now.Format("15:04:05"),
	)
	b.WriteString("Use this information if the user asks about the date or the time. Always answer in the language of the user.")
	return b.String()
}

// Run sends the user message with its prior history and relays the
// backend's fragments to the sink in arrival order. It returns the full
// accumulated text. On a mid-stream failure the fragments already
// delivered stay delivered, the accumulated partial text is returned
// alongside the error, and nothing is retried here.
func (e *Exchange) Run(ctx context.Context, history []Turn, message string, sink Sink) (string, error) {
	translated, err := TranslateHistory(history)
	if err != nil {
		return "", err
	}

	messages := make([]llm.Message, 0, len(translated)+2)
	messages = append(messages, llm.Message{Role: "system", Content: systemInstruction(e.now())})
	messages = append(messages, translated...)
	messages = append(messages, llm.Message{Role: "user", Content: message})

	var accumulated strings.Builder
	start := e.now()

	streamErr := e.provider.ChatStream(ctx, messages, func(fragment string) error {
		accumulated.WriteString(fragment)
		sink.OnFragment(fragment)

		// Heuristic UX signal: ~4 characters per token. Never blocks or
		// alters fragment delivery.
		if elapsed := e.now().Sub(start).Seconds(); elapsed > 0 {
			estimatedTokens := float64(accumulated.Len()) / 4
			sink.OnRate(estimatedTokens / elapsed)
		}
		return nil
	})
	if streamErr != nil {
		return accumulated.String(), fmt.Errorf("generation stream: %w", streamErr)
	}

	return accumulated.String(), nil
}
