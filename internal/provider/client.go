package provider

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

	"github.com/buger/jsonparser"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wootrico/wabridge/internal/payload"
	"github.com/wootrico/wabridge/internal/phone"
)

// Dialect selects one of the three provider wire formats.
type Dialect string

const (
	DialectZapi   Dialect = "zapi"
	DialectUazapi Dialect = "uazapi"
	DialectWuzapi Dialect = "wuzapi"
)

const (
	// attachmentGap spaces consecutive attachment sends so providers do
	// not reorder or rate-drop them.
	attachmentGap = 2 * time.Second

	// downloadRetries bounds UAZAPI media downloads, which 404 until
	// the provider finishes staging the file.
	downloadRetries    = 5
	downloadRetryDelay = 2 * time.Second

	defaultZapiBaseURL = "https://api.z-api.io"
)

var (
	ErrMissingRecipient    = errors.New("provider: recipient is required")
	ErrNoMessageID         = errors.New("provider: response carried no message id")
	ErrDownloadUnsupported = errors.New("provider: media download requires the uazapi dialect")
	ErrEmptyDownload       = errors.New("provider: download returned no data")
)

// Config selects the dialect and carries its credentials. Exactly the
// fields the dialect needs must be set; New validates per recipe.
type Config struct {
	Dialect     Dialect
	BaseURL     string
	Token       string
	Instance    string
	ClientToken string
	Number      string
}

// Client sends, deletes and (for UAZAPI) downloads messages through one
// provider account.
type Client struct {
	cfg        Config
	http       *http.Client
	gap        time.Duration
	retryDelay time.Duration
}

// Attachment is one canonical media part of an outbound send.
type Attachment struct {
	URL      string
	Base64   string
	Kind     payload.Kind
	FileName string
}

// SendInput describes one outbound message. Recipient is an E.164
// number or a group identifier; LID/JID are optional provider-native
// handles; ReplyTo references the quoted message by provider id.
type SendInput struct {
	Recipient   string
	Content     string
	Kind        payload.Kind
	Attachments []Attachment
	LID         string
	JID         string
	ReplyTo     string
}

// New validates the dialect recipe and returns a ready client.
func New(cfg Config) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	switch cfg.Dialect {
	case DialectZapi:
		if cfg.Instance == "" || cfg.Token == "" || cfg.ClientToken == "" {
			return nil, fmt.Errorf("provider: zapi requires instance, token and client token")
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = defaultZapiBaseURL
		}
	case DialectUazapi:
		if cfg.BaseURL == "" || cfg.Token == "" || cfg.Number == "" {
			return nil, fmt.Errorf("provider: uazapi requires base url, token and connected number")
		}
		cfg.Number = phone.Digits(cfg.Number)
	case DialectWuzapi:
		if cfg.BaseURL == "" || cfg.Token == "" {
			return nil, fmt.Errorf("provider: wuzapi requires base url and token")
		}
	default:
		return nil, fmt.Errorf("provider: unknown dialect %q", cfg.Dialect)
	}

	return &Client{
		cfg:        cfg,
		http:       &http.Client{Timeout: 30 * time.Second},
		gap:        attachmentGap,
		retryDelay: downloadRetryDelay,
	}, nil
}

// Dialect returns the configured dialect.
func (c *Client) Dialect() Dialect {
	return c.cfg.Dialect
}

// Key returns the identifier the registry routes inbound events by:
// the connected number's digits for UAZAPI, the instance id for Z-API
// and the lowercased base URL for Wuzapi.
func (c *Client) Key() string {
	switch c.cfg.Dialect {
	case DialectUazapi:
		return c.cfg.Number
	case DialectZapi:
		return c.cfg.Instance
	default:
		return strings.ToLower(c.cfg.BaseURL)
	}
}

// SendMessage delivers one logical message. Without attachments it is a
// single text send. With attachments each part goes out in order with a
// fixed gap and only the first carries the text body. The returned id
// is the provider id of the first part.
func (c *Client) SendMessage(ctx context.Context, in SendInput) (string, error) {
	if in.Recipient == "" {
		return "", ErrMissingRecipient
	}

	if len(in.Attachments) == 0 {
		return c.sendText(ctx, in)
	}

	var firstID string
	for i, att := range in.Attachments {
		if i > 0 {
			select {
			case <-time.After(c.gap):
			case <-ctx.Done():
				return firstID, ctx.Err()
			}
		}
		text := ""
		if i == 0 {
			text = in.Content
		}
		id, err := c.sendAttachment(ctx, in, att, text)
		if err != nil {
			return firstID, fmt.Errorf("attachment %d/%d: %w", i+1, len(in.Attachments), err)
		}
		if firstID == "" {
			firstID = id
		}
	}
	return firstID, nil
}

// DeleteMessage revokes a previously sent message. The recipient is
// required by the Z-API dialect only; the others key the delete by the
// provider message id alone.
func (c *Client) DeleteMessage(ctx context.Context, providerMsgID, recipient string) error {
	switch c.cfg.Dialect {
	case DialectZapi:
		return c.zapiDelete(ctx, providerMsgID, recipient)
	case DialectUazapi:
		return c.uazapiDelete(ctx, providerMsgID)
	default:
		return c.wuzapiDelete(ctx, providerMsgID)
	}
}

// DownloadMedia fetches the raw bytes of a received media message.
// Only the UAZAPI dialect supports it.
func (c *Client) DownloadMedia(ctx context.Context, providerMsgID string) ([]byte, error) {
	if c.cfg.Dialect != DialectUazapi {
		return nil, ErrDownloadUnsupported
	}
	return c.uazapiDownload(ctx, providerMsgID)
}

func (c *Client) sendText(ctx context.Context, in SendInput) (string, error) {
	switch c.cfg.Dialect {
	case DialectZapi:
		return c.zapiSendText(ctx, in)
	case DialectUazapi:
		return c.uazapiSendText(ctx, in)
	default:
		return c.wuzapiSendText(ctx, in)
	}
}

func (c *Client) sendAttachment(ctx context.Context, in SendInput, att Attachment, text string) (string, error) {
	switch c.cfg.Dialect {
	case DialectZapi:
		return c.zapiSendAttachment(ctx, in, att, text)
	case DialectUazapi:
		return c.uazapiSendAttachment(ctx, in, att, text)
	default:
		return c.wuzapiSendAttachment(ctx, in, att, text)
	}
}

// recipient shapes the wire form of the destination: group identifiers
// pass verbatim, everything else is reduced to digits.
func (c *Client) recipient(raw string) string {
	if payload.IsGroupIdentifier(raw) {
		return raw
	}
	return phone.Digits(raw)
}

// doJSON posts (or deletes) a JSON body and returns the response bytes.
// Every call gets its own correlation id so provider-side identifiers
// can be matched to our logs.
func (c *Client) doJSON(ctx context.Context, method, url string, body any) ([]byte, error) {
	logger := log.With().
		Str("dialect", string(c.cfg.Dialect)).
		Str("method", method).
		Str("url", url).
		Str("correlationId", uuid.New().String()).
		Logger()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("provider request failed")
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("provider request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return respBody, fmt.Errorf("provider %s: %s %s: status %d: %s",
			c.cfg.Dialect, method, url, resp.StatusCode, truncate(respBody, 200))
	}
	return respBody, nil
}

func (c *Client) authorize(req *http.Request) {
	switch c.cfg.Dialect {
	case DialectZapi:
		req.Header.Set("Client-Token", c.cfg.ClientToken)
	default:
		req.Header.Set("token", c.cfg.Token)
	}
}

// extractMessageID digs the provider message id out of a send response.
// The three dialects disagree on the key, and some nest it.
func extractMessageID(body []byte) string {
	paths := [][]string{
		{"messageId"},
		{"id"},
		{"Id"},
		{"key", "id"},
		{"data", "Id"},
		{"message", "id"},
		{"messageid"},
	}
	for _, p := range paths {
		if s, err := jsonparser.GetString(body, p...); err == nil && s != "" {
			return s
		}
	}
	return ""
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
