// Package speech synthesizes assistant replies through a hosted TTS API.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/companion/internal/config"
	"github.com/smallbiznis/companion/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const codeSuccess = 3000

var (
	ErrEmptyText   = errors.New("empty_text")
	ErrSynthesis   = errors.New("speech_synthesis_failed")
	ErrUnavailable = errors.New("speech_unavailable")
)

type Result struct {
	AudioData string `json:"audioData"`
	ReqID     string `json:"reqid"`
}

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Client *http.Client `name:"speech_http_client" optional:"true"`
}

type Client struct {
	url       string
	apiKey    string
	cluster   string
	voiceType string
	encoding  string
	log       *zap.Logger
	http      *http.Client
}

func NewClient(p Params) *Client {
	cfg := p.Config.Speech
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := p.Client
	if httpClient == nil {
		httpClient = tracing.WrapHTTPClient(&http.Client{Timeout: timeout})
	}
	return &Client{
		url:       strings.TrimSpace(cfg.URL),
		apiKey:    strings.TrimSpace(cfg.APIKey),
		cluster:   orDefault(cfg.Cluster, "volcano_tts"),
		voiceType: orDefault(cfg.VoiceType, "BV001"),
		encoding:  orDefault(cfg.Encoding, "mp3"),
		log:       p.Log.Named("speech.client"),
		http:      httpClient,
	}
}

type ttsRequest struct {
	App struct {
		Cluster string `json:"cluster"`
	} `json:"app"`
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	Audio struct {
		VoiceType   string  `json:"voice_type"`
		Encoding    string  `json:"encoding"`
		Language    string  `json:"language,omitempty"`
		SpeedRatio  float64 `json:"speed_ratio"`
		VolumeRatio float64 `json:"volume_ratio"`
		PitchRatio  float64 `json:"pitch_ratio"`
	} `json:"audio"`
	Request struct {
		ReqID     string `json:"reqid"`
		Text      string `json:"text"`
		Operation string `json:"operation"`
	} `json:"request"`
}

type ttsResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	ReqID   string `json:"reqid"`
	Data    string `json:"data"`
}

// Synthesize makes one request per call. Failures are not retried.
func (c *Client) Synthesize(ctx context.Context, text, language string) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if c.url == "" {
		return nil, ErrUnavailable
	}

	var body ttsRequest
	body.App.Cluster = c.cluster
	body.User.UID = "companion"
	body.Audio.VoiceType = c.voiceType
	body.Audio.Encoding = c.encoding
	body.Audio.Language = language
	body.Audio.SpeedRatio = 1.0
	body.Audio.VolumeRatio = 1.0
	body.Audio.PitchRatio = 1.0
	body.Request.ReqID = uuid.NewString()
	body.Request.Text = text
	body.Request.Operation = "query"

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("tts request failed", zap.String("reqid", body.Request.ReqID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrSynthesis, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		c.log.Warn("tts provider error",
			zap.String("reqid", body.Request.ReqID),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(raw)),
		)
		return nil, ErrSynthesis
	}

	var out ttsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesis, err)
	}
	if out.Code != codeSuccess {
		c.log.Warn("tts provider rejected request",
			zap.String("reqid", body.Request.ReqID),
			zap.Int("code", out.Code),
			zap.String("message", out.Message),
		)
		return nil, ErrSynthesis
	}
	reqID := out.ReqID
	if reqID == "" {
		reqID = body.Request.ReqID
	}
	return &Result{AudioData: out.Data, ReqID: reqID}, nil
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
