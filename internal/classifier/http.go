package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oszuidwest/crest/internal/util"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	// DefaultTimeout bounds a single classifier round trip.
	DefaultTimeout = 5 * time.Second

	textPath     = "/data"
	audioPath    = "/audio-data"
	feedbackPath = "/feedback"

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 64 << 10
)

// HTTPConfig configures the remote classifier client.
type HTTPConfig struct {
	URL     string
	Timeout time.Duration

	// Optional OAuth2 client credentials.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// HTTPClient calls the classifier service over HTTP.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a classifier client for cfg.URL.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, util.WrapError("parse classifier URL", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("classifier URL must use http or https")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := &http.Client{Timeout: timeout}

	if util.IsConfigured(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret) {
		conf := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		// Token requests share the timeout of the classifier calls.
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		httpClient = conf.Client(ctx)
		httpClient.Timeout = timeout
	}

	return &HTTPClient{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		httpClient: httpClient,
	}, nil
}

type textRequest struct {
	Text string `json:"text"`
}

type audioRequest struct {
	Volume    float64 `json:"volume"`
	Baseline  float64 `json:"baseline"`
	Spike     float64 `json:"spike"`
	Timestamp int64   `json:"timestamp"` // Unix milliseconds
}

// verdictResponse is the service answer. Confidence is either a number or a
// YES/NO token depending on the service version.
type verdictResponse struct {
	Action     string          `json:"action"`
	Level      *float64        `json:"level"`
	Duration   *float64        `json:"duration"`
	Confidence json.RawMessage `json:"confidence"`
}

// ClassifyText implements Classifier.
func (c *HTTPClient) ClassifyText(ctx context.Context, text string) (Verdict, error) {
	return c.classify(ctx, textPath, textRequest{Text: text})
}

// ClassifyAudio implements Classifier.
func (c *HTTPClient) ClassifyAudio(ctx context.Context, f AudioFeatures) (Verdict, error) {
	return c.classify(ctx, audioPath, audioRequest{
		Volume:    f.Volume,
		Baseline:  f.Baseline,
		Spike:     f.Spike,
		Timestamp: f.Timestamp.UnixMilli(),
	})
}

// ReportCorrection implements FeedbackReporter.
func (c *HTTPClient) ReportCorrection(ctx context.Context) error {
	resp, err := c.post(ctx, feedbackPath, struct {
		Event string `json:"event"`
	}{Event: "user_correction"})
	if err != nil {
		return err
	}
	defer util.SafeCloseFunc(resp.Body, "feedback response body")()
	return nil
}

func (c *HTTPClient) classify(ctx context.Context, path string, payload any) (Verdict, error) {
	resp, err := c.post(ctx, path, payload)
	if err != nil {
		return Verdict{}, err
	}
	defer util.SafeCloseFunc(resp.Body, "classifier response body")()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: read body: %w", ErrUnreachable, err)
	}
	return ParseVerdict(body)
}

// post sends payload as JSON and returns a response with a 2xx status.
func (c *HTTPClient) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, util.WrapError("marshal classifier request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, util.WrapError("create classifier request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer util.SafeCloseFunc(resp.Body, "classifier response body")()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if msg := util.LastLine(string(body)); msg != "" {
			return nil, fmt.Errorf("%w: %s returned status %d: %s", ErrUnreachable, path, resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("%w: %s returned status %d", ErrUnreachable, path, resp.StatusCode)
	}
	return resp, nil
}

// ParseVerdict interprets a classifier response body.
func ParseVerdict(body []byte) (Verdict, error) {
	var r verdictResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return Verdict{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	var v Verdict
	switch strings.ToUpper(r.Action) {
	case ActionLowerVolume:
		v.Lower = true
	case ActionNone, "":
	default:
		return Verdict{}, fmt.Errorf("%w: unknown action %q", ErrMalformedResponse, r.Action)
	}

	if r.Level != nil {
		if *r.Level < 0 || *r.Level > 1 {
			return Verdict{}, fmt.Errorf("%w: level %v outside [0,1]", ErrMalformedResponse, *r.Level)
		}
		v.Level = *r.Level
	}
	if r.Duration != nil {
		if *r.Duration < 0 {
			return Verdict{}, fmt.Errorf("%w: negative duration %v", ErrMalformedResponse, *r.Duration)
		}
		v.Duration = time.Duration(*r.Duration * float64(time.Millisecond))
	}

	conf, err := parseConfidence(r.Confidence, v.Lower)
	if err != nil {
		return Verdict{}, err
	}
	v.Confidence = conf
	return v, nil
}

func parseConfidence(raw json.RawMessage, lower bool) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return DefaultConfidence, nil
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		if n < 0 || n > 1 {
			return 0, fmt.Errorf("%w: confidence %v outside [0,1]", ErrMalformedResponse, n)
		}
		return n, nil
	}

	var token string
	if err := json.Unmarshal(raw, &token); err != nil {
		return 0, fmt.Errorf("%w: confidence is neither number nor string", ErrMalformedResponse)
	}
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case "YES":
		return DefaultConfidence, nil
	case "NO":
		if lower {
			return DefaultConfidence, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: unknown confidence %q", ErrMalformedResponse, token)
	}
}
