package llama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"strings"

	"github.com/nanaosei/cropdoc/completer"
)

type jsonmap map[string]any

// Sampling parameters for the llama.cpp completion endpoint.
var defaultparams = jsonmap{
	"n_predict":         1000,
	"n_probs":           0,
	"temperature":       0.7,
	"stop":              []string{"</s>"},
	"repeat_last_n":     256,
	"repeat_penalty":    1.18,
	"top_k":             40,
	"top_p":             0.5,
	"typical_p":         1,
	"presence_penalty":  0,
	"frequency_penalty": 0,
	"cache_prompt":      true,
}

type llama struct {
	srvAddr string
	seed    int

	client *http.Client
}

var _ completer.Completer = &llama{}

func Init(srvAddr string, seed int, httpClient *http.Client) *llama {
	return &llama{
		srvAddr: srvAddr,
		seed:    seed,
		client:  httpClient,
	}
}

func (l *llama) Name() string { return "llama" }

func (l *llama) Model() string { return "llama-local" }

func (l *llama) IsHealthy() bool {
	resp, err := http.Get(l.srvAddr)
	if err != nil {
		return false
	}

	return resp.StatusCode == http.StatusOK
}

func (l *llama) Complete(ctx context.Context, prompt string) (string, error) {
	return l.sendRequest(ctx, prompt, false, jsonmap{})
}

func (l *llama) sendRequest(ctx context.Context, prompt string, stream bool, keys jsonmap) (string, error) {
	data := maps.Clone(defaultparams)
	maps.Copy(data, keys)
	data["prompt"] = prompt
	data["stream"] = stream
	data["seed"] = l.seed

	buf := bytes.NewBuffer(make([]byte, 0, 64_000)) // The buffer will be resized by Encode
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(&data)
	if err != nil {
		return "", err
	}
	br := bytes.NewReader(buf.Bytes())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.srvAddr+"/completion", br)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	content := new(bytes.Buffer)
	respbody := struct {
		Content string
		Stop    bool
	}{}

	lr := bufio.NewScanner(resp.Body)
	for !respbody.Stop {
		if !lr.Scan() {
			return "", lr.Err()
		}
		line := lr.Text()
		// An empty line follows each JSON body
		if len(line) == 0 {
			continue
		}
		if stream {
			var found bool
			line, found = strings.CutPrefix(line, "data: ")
			if !found {
				return "", fmt.Errorf("missing `data: ` prefix")
			}
		}

		dec := json.NewDecoder(bytes.NewBufferString(line))
		if err := dec.Decode(&respbody); err != nil {
			return "", err
		}
		content.WriteString(respbody.Content)
	}

	return strings.TrimLeft(content.String(), " "), nil
}
