package pairingapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
	"golang.org/x/time/rate"

	apperrors "github.com/omnidesk/console-server/internal/errors"
	"github.com/omnidesk/console-server/internal/pairing"
)

const (
	serviceName = "pairing backend"

	defaultTimeout           = 10 * time.Second
	defaultRatePerSecond     = 5
	defaultPollRatePerSecond = 10
	qrImageSize          = 256
	maxResponseBytes     = 1 << 20
	dataURIPrefix        = "data:"
	pngDataURIPrefix     = "data:image/png;base64,"
)

var errPollThrottled = errors.New("status poll throttled")

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RatePerSecond bounds create, QR and disconnect calls.
	RatePerSecond float64
	// PollRatePerSecond bounds status polls. Polls over budget fail at once
	// instead of queueing; the next poll tick tries again.
	PollRatePerSecond float64
	HTTPClient        *http.Client
}

// Client talks to the channel pairing backend.
type Client struct {
	baseURL     string
	apiKey      string
	client      *http.Client
	limiter     *rate.Limiter
	pollLimiter *rate.Limiter
	now         func() time.Time
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = defaultRatePerSecond
	}
	if cfg.PollRatePerSecond <= 0 {
		cfg.PollRatePerSecond = defaultPollRatePerSecond
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		client:      httpClient,
		limiter:     newLimiter(cfg.RatePerSecond),
		pollLimiter: newLimiter(cfg.PollRatePerSecond),
		now:         time.Now,
	}
}

func newLimiter(perSecond float64) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
}

type createConnectionRequest struct {
	Name    string   `json:"name"`
	Sectors []string `json:"sectors"`
}

type createConnectionResponse struct {
	ID string `json:"id"`
}

type qrCodeResponse struct {
	QRCode    string     `json:"qr_code"`
	ExpiresAt *time.Time `json:"expires_at"`
	ExpiresIn int        `json:"expires_in"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// CreateConnection registers a connection with the backend and returns its id.
func (c *Client) CreateConnection(ctx context.Context, name string, sectors []string) (string, error) {
	var resp createConnectionResponse
	err := c.do(ctx, c.limiter, http.MethodPost, "/connections", createConnectionRequest{
		Name:    name,
		Sectors: sectors,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", apperrors.External(serviceName, fmt.Errorf("create connection: empty id"))
	}
	return resp.ID, nil
}

// GetQRCode fetches the current pairing code. Raw codes are rendered to a
// PNG data URI so callers always receive something an <img> can show.
func (c *Client) GetQRCode(ctx context.Context, connectionID string) (*pairing.QRCode, error) {
	var resp qrCodeResponse
	if err := c.do(ctx, c.limiter, http.MethodGet, connectionPath(connectionID, "qrcode"), nil, &resp); err != nil {
		return nil, err
	}

	if resp.QRCode == "" {
		return nil, apperrors.External(serviceName, fmt.Errorf("qr code missing from response"))
	}

	var expiresAt time.Time
	switch {
	case resp.ExpiresAt != nil && !resp.ExpiresAt.IsZero():
		expiresAt = *resp.ExpiresAt
	case resp.ExpiresIn > 0:
		expiresAt = c.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	default:
		return nil, apperrors.External(serviceName, fmt.Errorf("qr code expiry missing from response"))
	}

	payload, err := renderPayload(resp.QRCode)
	if err != nil {
		return nil, apperrors.External(serviceName, err)
	}

	return &pairing.QRCode{Payload: payload, ExpiresAt: expiresAt}, nil
}

func (c *Client) GetConnectionStatus(ctx context.Context, connectionID string) (*pairing.RemoteState, error) {
	if !c.pollLimiter.Allow() {
		return nil, apperrors.External(serviceName, errPollThrottled)
	}
	var resp statusResponse
	if err := c.do(ctx, nil, http.MethodGet, connectionPath(connectionID, "status"), nil, &resp); err != nil {
		return nil, err
	}
	return &pairing.RemoteState{Status: normalizeStatus(resp.Status)}, nil
}

func (c *Client) DisconnectConnection(ctx context.Context, connectionID string) error {
	return c.do(ctx, c.limiter, http.MethodPost, connectionPath(connectionID, "disconnect"), nil, nil)
}

// do performs one request, first waiting on lim when it is set.
func (c *Client) do(ctx context.Context, lim *rate.Limiter, method, path string, payload, out any) error {
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return apperrors.External(serviceName, fmt.Errorf("rate limiter: %w", err))
		}
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		log.Debug().
			Err(err).
			Str("method", method).
			Str("path", path).
			Dur("elapsed", elapsed).
			Msg("pairing backend request error")
		return apperrors.External(serviceName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Warn().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("pairing backend request failed")
		return apperrors.External(serviceName,
			fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("pairing backend request")

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return apperrors.External(serviceName, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func connectionPath(connectionID, action string) string {
	return "/connections/" + url.PathEscape(connectionID) + "/" + action
}

func renderPayload(code string) (string, error) {
	if strings.HasPrefix(code, dataURIPrefix) {
		return code, nil
	}
	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", fmt.Errorf("encode qr code: %w", err)
	}
	return pngDataURIPrefix + base64.StdEncoding.EncodeToString(png), nil
}

func normalizeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "open", "connected":
		return pairing.RemoteStatusConnected
	default:
		return strings.ToLower(strings.TrimSpace(status))
	}
}
