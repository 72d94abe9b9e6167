package cropdoc

import (
	"fmt"
	"net/http"

	"github.com/nanaosei/cropdoc/completer"
	"github.com/nanaosei/cropdoc/internal/advice"
	"github.com/nanaosei/cropdoc/internal/groq"
	"github.com/nanaosei/cropdoc/internal/llama"
)

type InitOptions struct {
	// GroqAPIKey selects the hosted Groq backend for advice generation.
	GroqAPIKey string

	// LlamaServer selects a local llama.cpp server backend instead,
	// typically http://localhost:8080.
	LlamaServer string
	LlamaSeed   int

	HttpClient *http.Client // if nil uses http.DefaultClient
}

// Cropdoc bundles the advice side of the service. The Advisor is always
// usable; with no backend configured it serves fallback guidance only.
type Cropdoc struct {
	Advisor   *advice.Advisor
	Completer completer.Completer // nil when no backend is configured
}

func Init(cio InitOptions) (*Cropdoc, error) {
	httpClient := cio.HttpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	var c completer.Completer
	switch {
	case cio.GroqAPIKey != "" && cio.LlamaServer != "":
		return nil, fmt.Errorf("multiple advice backends selected, only one allowed")
	case cio.GroqAPIKey != "":
		c = groq.Init(cio.GroqAPIKey, httpClient)
	case cio.LlamaServer != "":
		c = llama.Init(cio.LlamaServer, cio.LlamaSeed, httpClient)
	default:
		// No backend. Classification still works; advice degrades to the
		// canned fallback.
	}

	return &Cropdoc{
		Advisor:   advice.New(c),
		Completer: c,
	}, nil
}
