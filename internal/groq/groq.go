package groq

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nanaosei/cropdoc/completer"

	oagc "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Groq exposes an OpenAI-compatible API, so the OpenAI client is pointed at
// the Groq endpoint.
const (
	baseURL = "https://api.groq.com/openai/v1"
	model   = "llama-3.3-70b-versatile"

	maxTokens   = 1000
	temperature = 0.7
)

type groq struct {
	oac   *oagc.Client
	model string
}

var (
	_ completer.Completer = &groq{}

	rl *rateLimiter // For requests to the Groq API
)

func Init(apiKey string, httpClient *http.Client) *groq {
	rl = newRateLimiter(20, time.Minute)

	return &groq{
		oac: oagc.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(baseURL),
			option.WithHTTPClient(httpClient),
		),
		model: model,
	}
}

func (g *groq) Name() string { return "groq" }

func (g *groq) Model() string { return g.model }

func (g *groq) IsHealthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// A model listing is the cheapest authenticated round trip.
	_, err := g.oac.Models.Get(ctx, g.model)
	return err == nil
}

func (g *groq) Complete(ctx context.Context, prompt string) (string, error) {
	// Rate limit use of the Groq API
	if err := rl.Acquire(ctx); err != nil {
		return "", err
	}

	resp, err := g.oac.Chat.Completions.New(ctx, oagc.ChatCompletionNewParams{
		Messages: oagc.F([]oagc.ChatCompletionMessageParamUnion{
			oagc.UserMessage(prompt),
		}),
		Model:       oagc.F(oagc.ChatModel(g.model)),
		Temperature: oagc.Float(temperature),
		MaxTokens:   oagc.Int(maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("groq completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("groq completion: empty choices")
	}

	return resp.Choices[0].Message.Content, nil
}
