// Package commentary turns announcer text into speech through the
// ElevenLabs API. Audio is a nice-to-have: every failure path degrades to
// "no audio" so the game loop never stalls on it.
package commentary

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/vibechess-server/internal/obslog"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultVoiceID = "pNInz6obpgDQGcFmaJgB"
	modelID        = "eleven_monolingual_v1"
	requestTimeout = 15 * time.Second
)

type synthesizeRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// Narrator synthesizes commentary audio. A Narrator without an API key is
// valid and simply disabled.
type Narrator struct {
	apiKey  string
	voiceID string
	baseURL string
	http    *fasthttp.Client
}

func NewNarrator(apiKey, voiceID string) *Narrator {
	if strings.TrimSpace(voiceID) == "" {
		voiceID = defaultVoiceID
	}
	n := &Narrator{
		apiKey:  strings.TrimSpace(apiKey),
		voiceID: voiceID,
		baseURL: defaultBaseURL,
		http:    &fasthttp.Client{ReadTimeout: requestTimeout, WriteTimeout: requestTimeout, MaxConnsPerHost: 8},
	}
	if n.Enabled() {
		obslog.L().Info("commentary narrator enabled", zap.String("voice_id", voiceID))
	} else {
		obslog.L().Info("commentary narrator disabled, no api key set")
	}
	return n
}

func (n *Narrator) Enabled() bool {
	return n.apiKey != ""
}

// Narrate returns base64-encoded audio for the text, or "" when disabled or
// when synthesis fails for any reason.
func (n *Narrator) Narrate(ctx context.Context, text string) string {
	if !n.Enabled() || strings.TrimSpace(text) == "" {
		return ""
	}
	audio, err := n.synthesize(ctx, text)
	if err != nil {
		obslog.L().Error("commentary audio generation failed", zap.Error(err))
		return ""
	}
	return audio
}

func (n *Narrator) synthesize(ctx context.Context, text string) (string, error) {
	payload, err := json.Marshal(synthesizeRequest{
		Text:    text,
		ModelID: modelID,
		VoiceSettings: voiceSettings{
			Stability:       0.35,
			SimilarityBoost: 0.8,
			Style:           0.85,
			UseSpeakerBoost: true,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(n.baseURL + "/v1/text-to-speech/" + n.voiceID)
	req.Header.SetContentType("application/json")
	req.Header.Set("xi-api-key", n.apiKey)
	req.SetBody(payload)

	deadline := time.Now().Add(requestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := n.http.DoDeadline(req, resp, deadline); err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("elevenlabs api error: status=%d", status)
	}
	return base64.StdEncoding.EncodeToString(resp.Body()), nil
}
