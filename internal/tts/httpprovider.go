// SPDX-License-Identifier: MIT

package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPProviderConfig configures an HTTPProvider.
type HTTPProviderConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// HTTPProvider implements Provider against an HTTP-based speech-synthesis
// vendor: POST text and a voice id, get back raw audio bytes.
type HTTPProvider struct {
	cfg  HTTPProviderConfig
	http *http.Client
}

// NewHTTPProvider builds an HTTPProvider. An empty APIKey is still valid
// to construct (cfg.HasTTS() at the cmd/sessiond wiring layer decides
// whether to use it at all), since synthesis calls naturally fail closed
// against a real vendor without credentials.
func NewHTTPProvider(cfg HTTPProviderConfig) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &HTTPProvider{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type synthesizeRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
}

type synthesizeResponse struct {
	AudioBase64 string `json:"audioBase64"`
	ContentType string `json:"contentType"`
}

// Synthesize implements Provider.
func (p *HTTPProvider) Synthesize(ctx context.Context, text, providerVoiceID string, speed float64) ([]byte, string, error) {
	reqBody, err := json.Marshal(synthesizeRequest{Text: text, Voice: providerVoiceID, Speed: speed})
	if err != nil {
		return nil, "", fmt.Errorf("tts httpprovider: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/synthesize", bytes.NewReader(reqBody))
	if err != nil {
		return nil, "", fmt.Errorf("tts httpprovider: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	res, err := p.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("tts httpprovider: request: %w", err)
	}
	defer func() {
		_, _ = io.CopyN(io.Discard, res.Body, 4096)
		_ = res.Body.Close()
	}()

	if res.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, maxProviderErrBody))
		return nil, "", NewProviderHTTPError(res.StatusCode, snippet)
	}

	var parsed synthesizeResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, "", fmt.Errorf("tts httpprovider: decode response: %w", err)
	}

	data, err := decodeAudioBase64(parsed.AudioBase64)
	if err != nil {
		return nil, "", fmt.Errorf("tts httpprovider: decode audio: %w", err)
	}
	return data, parsed.ContentType, nil
}

const maxProviderErrBody = 8 * 1024

func decodeAudioBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
