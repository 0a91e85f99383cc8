// Package providers contains concrete Provider implementations. HAP treats
// transcription providers as opaque external collaborators (spec §1); this
// package supplies a single generic REST-backed implementation that two
// differently-configured instances can serve as "primary" and "fallback"
// (spec §6 "Two implementations are selectable by configuration").
package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mantonx/hap/internal/transcribe"
)

// RESTConfig configures one REST-backed provider instance.
type RESTConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// RESTProvider submits audio to a JSON/REST transcription endpoint and
// parses a word-level response.
type RESTProvider struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewRESTProvider constructs a RESTProvider. It returns an error if
// BaseURL is empty, since that's the "configuration absence" case spec
// §4.C step 4 asks callers to treat as equivalent to provider failure.
func NewRESTProvider(cfg RESTConfig) (*RESTProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider %q: no base URL configured", cfg.Name)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &RESTProvider{
		name:    cfg.Name,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (p *RESTProvider) Name() string { return p.name }

type restRequest struct {
	AudioBase64  string `json:"audio_base64"`
	MimeType     string `json:"mime_type"`
	LanguageHint string `json:"language_hint,omitempty"`
}

type restWord struct {
	Text       string   `json:"text"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Confidence *float64 `json:"confidence,omitempty"`
	LogProb    *float64 `json:"logprob,omitempty"`
}

type restResponse struct {
	Words    []restWord `json:"words"`
	Duration float64    `json:"duration,omitempty"`
}

// Transcribe submits audio and parses the provider's word-level response.
func (p *RESTProvider) Transcribe(ctx context.Context, audio []byte, mimeType, languageHint string) (transcribe.ProviderResponse, error) {
	body, err := json.Marshal(restRequest{
		AudioBase64:  base64.StdEncoding.EncodeToString(audio),
		MimeType:     mimeType,
		LanguageHint: languageHint,
	})
	if err != nil {
		return transcribe.ProviderResponse{}, fmt.Errorf("%s: encode request: %w", p.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/transcribe", bytes.NewReader(body))
	if err != nil {
		return transcribe.ProviderResponse{}, fmt.Errorf("%s: build request: %w", p.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return transcribe.ProviderResponse{}, fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return transcribe.ProviderResponse{}, fmt.Errorf("%s: upstream status %d: %s", p.name, resp.StatusCode, string(b))
	}

	var parsed restResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return transcribe.ProviderResponse{}, fmt.Errorf("%s: decode response: %w", p.name, err)
	}

	out := transcribe.ProviderResponse{Duration: parsed.Duration}
	out.Words = make([]transcribe.ProviderWord, 0, len(parsed.Words))
	for _, w := range parsed.Words {
		out.Words = append(out.Words, transcribe.ProviderWord{
			Text:       w.Text,
			Start:      w.Start,
			End:        w.End,
			Confidence: w.Confidence,
			LogProb:    w.LogProb,
		})
	}
	return out, nil
}
