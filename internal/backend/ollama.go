package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/namikmesic/genstream/internal/retry"
	"github.com/rs/zerolog/log"
)

var _ Generator = (*Ollama)(nil)

// Ollama streams from a local Ollama server's /api/generate endpoint, which
// answers with one JSON object per line.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
	policy  retry.Policy
}

type ollamaRequest struct {
	Model     string         `json:"model"`
	Prompt    string         `json:"prompt,omitempty"`
	Stream    bool           `json:"stream"`
	KeepAlive string         `json:"keep_alive,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

type ollamaChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// NewOllama creates an Ollama generator. policy bounds the non-streaming
// calls (health and warmup); streaming calls are never retried here.
func NewOllama(baseURL, model string, client *http.Client, policy retry.Policy) *Ollama {
	if client == nil {
		client = NewHTTPClient()
	}
	return &Ollama{baseURL: baseURL, model: model, client: client, policy: policy}
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) Generate(ctx context.Context, p Prompt, onText func(full string)) (string, error) {
	model := p.Model
	if model == "" {
		model = o.model
	}
	options := map[string]any{"temperature": 0.7}
	if p.Kind != KindStudyBuddy {
		// flashcard and quiz output has to be valid JSON
		options["temperature"] = 0.1
	}

	resp, err := o.post(ctx, ollamaRequest{Model: model, Prompt: p.Text, Stream: true, Options: options})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Warn().Int("status", resp.StatusCode).Str("body", string(body)).Msg("ollama rejected generation")
		return "", fmt.Errorf("ollama responded with status: %d", resp.StatusCode)
	}

	var text strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk ollamaChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			log.Debug().Err(err).Msg("skipping unparseable ollama line")
			continue
		}
		if chunk.Error != "" {
			return text.String(), fmt.Errorf("ollama: %s", chunk.Error)
		}
		if chunk.Response != "" {
			text.WriteString(chunk.Response)
			if onText != nil {
				onText(text.String())
			}
		}
		if chunk.Done {
			return text.String(), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return text.String(), fmt.Errorf("read ollama stream: %w", err)
	}
	return text.String(), errors.New("ollama stream ended before done")
}

// IsHealthy checks if the Ollama server is reachable, retrying per policy.
func (o *Ollama) IsHealthy(ctx context.Context) bool {
	err := retry.Do(ctx, o.policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, buildTargetURL(o.baseURL, "/api/tags"), nil)
		if err != nil {
			return err
		}
		resp, err := o.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("ollama health: status %d", resp.StatusCode)
		}
		return nil
	})
	return err == nil
}

// Warmup loads the configured model so the first generation does not pay
// the load latency.
func (o *Ollama) Warmup(ctx context.Context) error {
	return retry.Do(ctx, o.policy, func(ctx context.Context) error {
		resp, err := o.post(ctx, ollamaRequest{Model: o.model, KeepAlive: "5m"})
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("warmup failed: status %d", resp.StatusCode)
		}
		log.Info().Str("model", o.model).Msg("ollama model warmed up")
		return nil
	})
}

func (o *Ollama) post(ctx context.Context, body ollamaRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode ollama request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, buildTargetURL(o.baseURL, "/api/generate"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	return resp, nil
}
