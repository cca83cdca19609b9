package chatwoot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// textTimeout bounds the plain JSON calls (inbox, contact,
	// conversation and text-message endpoints).
	textTimeout = 30 * time.Second

	// mediaTimeout bounds multipart message uploads.
	mediaTimeout = 60 * time.Second

	// downloadTimeout bounds avatar and attachment URL downloads.
	downloadTimeout = 30 * time.Second

	mediaRetries  = 3
	avatarRetries = 3

	// DefaultMediaThrottle is the minimum spacing between two media
	// uploads of the same client. Text messages bypass it.
	DefaultMediaThrottle = time.Second
)

// Message directions as Chatwoot spells them.
const (
	MessageIncoming = "incoming"
	MessageOutgoing = "outgoing"
)

// Conversation states.
const (
	StatusOpen     = "open"
	StatusResolved = "resolved"
	StatusPending  = "pending"
)

var (
	ErrNoMessageID       = errors.New("chatwoot: response carried no message id")
	ErrNoInboxID         = errors.New("chatwoot: inbox create response carried no id")
	ErrNoContactID       = errors.New("chatwoot: contact response carried no id")
	ErrNoConversationID  = errors.New("chatwoot: conversation create response carried no id")
	ErrNoMediaSource     = errors.New("chatwoot: no media source produced bytes")
	ErrMissingIdentifier = errors.New("chatwoot: contact identifier is required")
)

// Config carries one tenant's Chatwoot binding plus the policies the
// client enforces locally.
type Config struct {
	BaseURL        string
	Token          string
	AccountID      string
	InboxName      string
	DataDir        string
	WebhookBaseURL string
	WebhookName    string
	ReopenResolved bool
	InitialStatus  string
	MediaThrottle  time.Duration
}

// DownloadFunc fetches media bytes for a provider message id. The
// registry installs the UAZAPI download endpoint here; the other
// dialects inline their media and leave the hook unset.
type DownloadFunc func(ctx context.Context, providerMsgID string) ([]byte, error)

// Client is the per-tenant Chatwoot API client. It owns the inbox
// resolution state, the media send throttle and the download hook; one
// instance is shared by both queue processors.
type Client struct {
	cfg Config

	http      *http.Client
	mediaHTTP *http.Client
	fetchHTTP *http.Client

	download DownloadFunc

	mu      sync.Mutex
	inboxID int

	sendMu    sync.Mutex
	lastMedia time.Time

	retryDelay time.Duration
}

// New validates the binding and returns a ready client. No network
// calls happen here; EnsureInbox does the first round trip.
func New(cfg Config) (*Client, error) {
	var missing []string
	if strings.TrimSpace(cfg.BaseURL) == "" {
		missing = append(missing, "base url")
	}
	if cfg.Token == "" {
		missing = append(missing, "api token")
	}
	if cfg.AccountID == "" {
		missing = append(missing, "account id")
	}
	if cfg.InboxName == "" {
		missing = append(missing, "inbox name")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("chatwoot: missing %s", strings.Join(missing, ", "))
	}

	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.DataDir == "" {
		cfg.DataDir = "/app/data"
	}
	switch cfg.InitialStatus {
	case StatusOpen, StatusResolved, StatusPending:
	default:
		cfg.InitialStatus = StatusOpen
	}
	if cfg.MediaThrottle <= 0 {
		cfg.MediaThrottle = DefaultMediaThrottle
	}

	return &Client{
		cfg:        cfg,
		http:       &http.Client{Timeout: textTimeout},
		mediaHTTP:  &http.Client{Timeout: mediaTimeout},
		fetchHTTP:  &http.Client{Timeout: downloadTimeout},
		retryDelay: 2 * time.Second,
	}, nil
}

// SetDownloadHook installs the provider media download used for UAZAPI
// attachments.
func (c *Client) SetDownloadHook(fn DownloadFunc) {
	c.download = fn
}

// InboxID returns the resolved inbox id, or zero before EnsureInbox
// succeeds.
func (c *Client) InboxID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inboxID
}

func (c *Client) accountURL(path string) string {
	return fmt.Sprintf("%s/api/v1/accounts/%s%s", c.cfg.BaseURL, c.cfg.AccountID, path)
}

// apiError carries the response status so retry policies can classify
// remote failures.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("chatwoot: status %d: %s", e.Status, e.Body)
}

// retryableError reports whether err is worth another attempt: remote
// 5xx and 429, transport failures and timeouts qualify.
func retryableError(err error) bool {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.Status == http.StatusTooManyRequests || ae.Status >= 500
	}
	var ne net.Error
	return errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded)
}

// doJSON issues one authenticated JSON request and decodes the response
// into out when non-nil. Non-2xx responses become *apiError.
func (c *Client) doJSON(ctx context.Context, client *http.Client, method, url string, body, out any) error {
	logger := log.With().
		Str("method", method).
		Str("url", url).
		Str("correlationId", uuid.New().String()).
		Logger()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api_access_token", c.cfg.Token)

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("chatwoot request failed")
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("chatwoot request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &apiError{Status: resp.StatusCode, Body: truncate(data, 200)}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// fetchWithRetry downloads a public URL with bounded retries on
// transport errors, 5xx and empty bodies. 4xx responses fail fast.
func (c *Client) fetchWithRetry(ctx context.Context, url string, attempts int) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build download request: %w", err)
		}
		resp, err := c.fetchHTTP.Do(req)
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Str("url", url).Int("attempt", attempt).Msg("download failed, retrying")
			continue
		}
		raw, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("download %s: status %d: %v", url, resp.StatusCode, readErr)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("download %s: status %d", url, resp.StatusCode)
		}
		if len(raw) == 0 {
			lastErr = fmt.Errorf("download %s: empty body", url)
			continue
		}
		return raw, nil
	}
	return nil, lastErr
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
