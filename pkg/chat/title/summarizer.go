package title

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"voicechat-be/internal/constant"
	"voicechat-be/pkg/llm"
)

const maxTitleLength = 50

var (
	prefixPattern   = regexp.MustCompile(`(?i)^\s*(voici|voilà|voila|titre|title|sujet)\b[^:]*:\s*`)
	emphasisPattern = regexp.MustCompile("[*_`#]+")
)

// Summarizer derives a short human-readable label for a conversation
// from its first exchange.
type Summarizer struct {
	provider llm.LLMProvider
}

func NewSummarizer(provider llm.LLMProvider) *Summarizer {
	return &Summarizer{provider: provider}
}

// Summarize asks the backend for a 3 to 5 word label covering the first
// user message and the model's reply, then sanitizes the output. The
// returned title is never empty; when the backend output is unusable the
// user message itself supplies a fallback.
func (s *Summarizer) Summarize(ctx context.Context, userMessage, modelReply string) (string, error) {
	conversation := fmt.Sprintf("User: %s\nAssistant: %s", userMessage, modelReply)
	prompt := fmt.Sprintf(constant.TitlePromptV1, conversation)

	raw, err := s.provider.Generate(ctx, prompt, llm.WithTemperature(0.2))
	if err != nil {
		return "", fmt.Errorf("title generation: %w", err)
	}
	return Clean(raw, userMessage), nil
}

// Clean normalizes a model-produced title: strips wrapping quotes and
// markdown emphasis, removes "Titre:" style lead-ins, collapses
// whitespace, and bounds the length. A result too short to be a label
// falls back to the opening words of the user message, then to the
// default placeholder.
func Clean(raw, userMessage string) string {
	title := strings.TrimSpace(raw)
	title = emphasisPattern.ReplaceAllString(title, "")
	title = strings.Trim(title, `"'«»“”‘’ `)
	title = prefixPattern.ReplaceAllString(title, "")
	title = strings.Trim(title, `"'«»“”‘’ `)
	title = strings.Join(strings.Fields(title), " ")

	// Lengths count runes, not bytes; accented titles sit right at the
	// boundary otherwise.
	if utf8.RuneCountInString(title) > maxTitleLength {
		title = firstWords(title, 5)
	}
	if utf8.RuneCountInString(title) < 2 {
		title = firstWords(strings.TrimSpace(userMessage), 3)
	}
	if utf8.RuneCountInString(title) < 2 {
		return constant.DefaultConversationTitle
	}
	return title
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
