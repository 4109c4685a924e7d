package title

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicechat-be/internal/constant"
	"voicechat-be/pkg/llm"
)

type stubProvider struct {
	output    string
	err       error
	gotPrompt string
}

func (s *stubProvider) Chat(ctx context.Context, messages []llm.Message, opts ...llm.Option) (string, error) {
	return "", errors.New("not used")
}

func (s *stubProvider) ChatStream(ctx context.Context, messages []llm.Message, handler llm.StreamHandler, opts ...llm.Option) error {
	return errors.New("not used")
}

func (s *stubProvider) Generate(ctx context.Context, prompt string, opts ...llm.Option) (string, error) {
	s.gotPrompt = prompt
	return s.output, s.err
}

func TestClean(t *testing.T) {
	cases := []struct {
		name        string
		raw         string
		userMessage string
		want        string
	}{
		{
			name: "passthrough",
			raw:  "Voyage à Paris",
			want: "Voyage à Paris",
		},
		{
			name: "strips titre prefix",
			raw:  "Titre: Voyage à Paris",
			want: "Voyage à Paris",
		},
		{
			name: "strips voici lead-in",
			raw:  "Voici un titre possible: Recette de crêpes",
			want: "Recette de crêpes",
		},
		{
			name: "strips quotes",
			raw:  `"Question sur l'heure"`,
			want: "Question sur l'heure",
		},
		{
			name: "strips guillemets",
			raw:  "« Projet de vacances »",
			want: "Projet de vacances",
		},
		{
			name: "strips markdown emphasis",
			raw:  "**Idées de cadeaux**",
			want: "Idées de cadeaux",
		},
		{
			name: "collapses whitespace",
			raw:  "Plan  du \n voyage",
			want: "Plan du voyage",
		},
		{
			name: "long output trimmed to five words",
			raw:  "Une très longue proposition de titre qui dépasse largement la limite",
			want: "Une très longue proposition de",
		},
		{
			// 50 runes but 61 bytes; the bound counts runes
			name: "accented title at the limit kept whole",
			raw:  "Préférences détaillées récupérées après été chargé",
			want: "Préférences détaillées récupérées après été chargé",
		},
		{
			name: "two accented runes are a valid title",
			raw:  "Éé",
			want: "Éé",
		},
		{
			name:        "empty output falls back to user message",
			raw:         "",
			userMessage: "Comment faire des crêpes maison facilement",
			want:        "Comment faire des",
		},
		{
			name:        "whitespace output falls back to user message",
			raw:         "  \n ",
			userMessage: "Bonjour",
			want:        "Bonjour",
		},
		{
			name: "everything empty falls back to placeholder",
			raw:  "",
			want: constant.DefaultConversationTitle,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Clean(tc.raw, tc.userMessage))
		})
	}
}

func TestSummarizeBuildsPromptFromExchange(t *testing.T) {
	provider := &stubProvider{output: "Titre: Voyage à Paris"}
	s := NewSummarizer(provider)

	got, err := s.Summarize(context.Background(), "Je veux visiter Paris", "Excellente idée !")
	require.NoError(t, err)

	assert.Equal(t, "Voyage à Paris", got)
	assert.True(t, strings.Contains(provider.gotPrompt, "User: Je veux visiter Paris"))
	assert.True(t, strings.Contains(provider.gotPrompt, "Assistant: Excellente idée !"))
	assert.True(t, strings.Contains(provider.gotPrompt, "3 to 5 words"))
}

func TestSummarizePropagatesBackendError(t *testing.T) {
	provider := &stubProvider{err: errors.New("quota exceeded")}
	s := NewSummarizer(provider)

	_, err := s.Summarize(context.Background(), "Bonjour", "Salut")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}
