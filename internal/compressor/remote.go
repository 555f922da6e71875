package compressor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"frame-converter-go/internal/encoder"
)

// DefaultEndpoint is the public Tinify API.
const DefaultEndpoint = "https://api.tinify.com"

const defaultTimeout = 60 * time.Second

// RemoteConfig configures a RemoteCompressor.
type RemoteConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// RemoteCompressor sends artifacts to a Tinify-compatible API: the input is
// posted to {endpoint}/shrink and the result fetched from the returned
// output URL. Only WebP is forwarded. The service has no quality knob, so
// quality is ignored.
type RemoteCompressor struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger
}

type shrinkResponse struct {
	Output struct {
		Size int64  `json:"size"`
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"output"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewRemoteCompressor returns a client for cfg.
func NewRemoteCompressor(cfg RemoteConfig, logger *logrus.Logger) *RemoteCompressor {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &RemoteCompressor{
		endpoint:   endpoint,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Compress implements Compressor.
func (c *RemoteCompressor) Compress(ctx context.Context, data []byte, format encoder.Format, quality int) ([]byte, error) {
	if format != encoder.FormatWebP {
		return nil, fmt.Errorf("%w: %s is not accepted by the remote service", ErrUnsupported, format)
	}

	outputURL, err := c.shrink(ctx, data)
	if err != nil {
		return nil, err
	}
	return c.download(ctx, outputURL)
}

func (c *RemoteCompressor) shrink(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/shrink", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth("api", c.apiKey)
	req.Header.Set("Accept", "application/json")

	c.logger.WithField("bytes", len(data)).Debug("Uploading artifact for remote compression")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRemote, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %v", ErrRemote, err)
	}

	var sr shrinkResponse
	decodeErr := json.Unmarshal(body, &sr)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := sr.Message
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return "", fmt.Errorf("%w: status %d: %s", ErrRemote, resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrRemote, decodeErr)
	}

	url := sr.Output.URL
	if url == "" {
		url = resp.Header.Get("Location")
	}
	if url == "" {
		return "", fmt.Errorf("%w: response has no output url", ErrRemote)
	}
	return url, nil
}

func (c *RemoteCompressor) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth("api", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemote, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: download status %d", ErrRemote, resp.StatusCode)
	}
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read download: %v", ErrRemote, err)
	}
	return out, nil
}
