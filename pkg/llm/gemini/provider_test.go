package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicechat-be/pkg/llm"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *GeminiProvider {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p := NewGeminiProvider("test-key", "gemini-2.5-flash")
	p.BaseURL = server.URL
	return p
}

func TestBuildRequestSplitsSystemAndMapsRoles(t *testing.T) {
	req := buildRequest([]llm.Message{
		{Role: "system", Content: "context here"},
		{Role: "user", Content: "Bonjour"},
		{Role: "assistant", Content: "Salut !"},
		{Role: "user", Content: "Quelle heure ?"},
	}, &llm.Options{})

	require.NotNil(t, req.SystemInstruction)
	assert.Equal(t, "context here", req.SystemInstruction.Parts[0].Text)

	require.Len(t, req.Contents, 3)
	assert.Equal(t, "user", req.Contents[0].Role)
	assert.Equal(t, "model", req.Contents[1].Role)
	assert.Equal(t, "Salut !", req.Contents[1].Parts[0].Text)
	assert.Equal(t, "user", req.Contents[2].Role)
	assert.Nil(t, req.GenerationConfig)
}

func TestBuildRequestCarriesGenerationConfig(t *testing.T) {
	req := buildRequest([]llm.Message{
		{Role: "user", Content: "Bonjour"},
	}, &llm.Options{Temperature: 0.2, MaxTokens: 64})

	require.NotNil(t, req.GenerationConfig)
	assert.Equal(t, 0.2, req.GenerationConfig.Temperature)
	assert.Equal(t, 64, req.GenerationConfig.MaxOutputTokens)
}

func TestGenerateSendsTemperatureOnTheWire(t *testing.T) {
	var got geminiRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []*geminiCandidate{{
				Content: &geminiContent{Parts: []*geminiPart{{Text: "Voyage à Paris"}}},
			}},
		})
	})

	_, err := p.Generate(context.Background(), "un titre", llm.WithTemperature(0.2))
	require.NoError(t, err)
	require.NotNil(t, got.GenerationConfig)
	assert.Equal(t, 0.2, got.GenerationConfig.Temperature)
}

func TestChatParsesCandidate(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.Contains(t, r.URL.Path, "gemini-2.5-flash:generateContent")

		json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []*geminiCandidate{{
				Content: &geminiContent{Parts: []*geminiPart{{Text: "Il est 15h."}}},
			}},
		})
	})

	got, err := p.Chat(context.Background(), []llm.Message{{Role: "user", Content: "Quelle heure est-il ?"}})
	require.NoError(t, err)
	assert.Equal(t, "Il est 15h.", got)
}

func TestChatErrorStatusSurfacesBody(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": "quota"}`))
	})

	_, err := p.Chat(context.Background(), []llm.Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "quota")
}

func sseChunk(text string) string {
	chunk, _ := json.Marshal(geminiResponse{
		Candidates: []*geminiCandidate{{
			Content: &geminiContent{Parts: []*geminiPart{{Text: text}}},
		}},
	})
	return fmt.Sprintf("data: %s\n\n", chunk)
}

func TestChatStreamDeliversFragmentsInOrder(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, ":streamGenerateContent")
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("Il "))
		fmt.Fprint(w, sseChunk("est "))
		fmt.Fprint(w, sseChunk("15h."))
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var fragments []string
	err := p.ChatStream(context.Background(), []llm.Message{{Role: "user", Content: "Quelle heure est-il ?"}}, func(fragment string) error {
		fragments = append(fragments, fragment)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Il ", "est ", "15h."}, fragments)
}

func TestChatStreamHandlerErrorAbortsStream(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("un"))
		fmt.Fprint(w, sseChunk("deux"))
		fmt.Fprint(w, sseChunk("trois"))
	})

	var fragments []string
	err := p.ChatStream(context.Background(), []llm.Message{{Role: "user", Content: "compte"}}, func(fragment string) error {
		fragments = append(fragments, fragment)
		if len(fragments) == 2 {
			return fmt.Errorf("stop here")
		}
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, []string{"un", "deux"}, fragments)
}

func TestChatStreamIgnoresKeepaliveLines(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "\n")
		fmt.Fprint(w, sseChunk("seul"))
	})

	var got strings.Builder
	err := p.ChatStream(context.Background(), []llm.Message{{Role: "user", Content: "x"}}, func(fragment string) error {
		got.WriteString(fragment)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "seul", got.String())
}
