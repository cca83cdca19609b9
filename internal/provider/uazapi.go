package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/buger/jsonparser"
	"github.com/rs/zerolog/log"

	"github.com/wootrico/wabridge/internal/payload"
)

type uazapiTextRequest struct {
	Number  string `json:"number"`
	Text    string `json:"text"`
	ReplyID string `json:"replyid,omitempty"`
}

type uazapiMediaRequest struct {
	Number  string `json:"number"`
	Type    string `json:"type"`
	File    string `json:"file"`
	Text    string `json:"text,omitempty"`
	DocName string `json:"docName,omitempty"`
	ReplyID string `json:"replyid,omitempty"`
}

func (c *Client) uazapiSendText(ctx context.Context, in SendInput) (string, error) {
	body, err := c.doJSON(ctx, "POST", c.cfg.BaseURL+"/send/text", uazapiTextRequest{
		Number:  c.recipient(in.Recipient),
		Text:    in.Content,
		ReplyID: in.ReplyTo,
	})
	if err != nil {
		return "", err
	}
	id := extractMessageID(body)
	if id == "" {
		return "", ErrNoMessageID
	}
	return id, nil
}

func (c *Client) uazapiSendAttachment(ctx context.Context, in SendInput, att Attachment, text string) (string, error) {
	media := att.URL
	if media == "" {
		media = att.Base64
	}

	req := uazapiMediaRequest{
		Number:  c.recipient(in.Recipient),
		Type:    string(att.Kind),
		File:    media,
		Text:    text,
		ReplyID: in.ReplyTo,
	}
	if att.Kind == payload.KindDocument {
		req.DocName = att.FileName
	}

	body, err := c.doJSON(ctx, "POST", c.cfg.BaseURL+"/send/media", req)
	if err != nil {
		return "", err
	}
	id := extractMessageID(body)
	if id == "" {
		return "", ErrNoMessageID
	}
	return id, nil
}

func (c *Client) uazapiDelete(ctx context.Context, providerMsgID string) error {
	_, err := c.doJSON(ctx, "POST", c.cfg.BaseURL+"/message/delete", map[string]string{
		"id": providerMsgID,
	})
	return err
}

// uazapiDownload fetches media bytes by message id. The provider stages
// files lazily, so 404/502/503, transport errors and empty bodies are
// retried on a fixed cadence before giving up.
func (c *Client) uazapiDownload(ctx context.Context, providerMsgID string) ([]byte, error) {
	request := map[string]any{
		"id":            providerMsgID,
		"return_base64": true,
		"return_link":   false,
	}

	var lastErr error
	for attempt := 1; attempt <= downloadRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		body, err := c.doJSON(ctx, "POST", c.cfg.BaseURL+"/message/download", request)
		if err != nil {
			lastErr = err
			log.Warn().
				Err(err).
				Str("messageId", providerMsgID).
				Int("attempt", attempt).
				Msg("uazapi media download failed, retrying")
			continue
		}

		encoded := uazapiBase64(body)
		if encoded == "" {
			lastErr = ErrEmptyDownload
			log.Warn().
				Str("messageId", providerMsgID).
				Int("attempt", attempt).
				Msg("uazapi media download returned no payload, retrying")
			continue
		}

		decoded, err := base64.StdEncoding.DecodeString(payload.SanitizeBase64(encoded))
		if err != nil {
			return nil, fmt.Errorf("decode downloaded media: %w", err)
		}
		return decoded, nil
	}

	if lastErr == nil {
		lastErr = ErrEmptyDownload
	}
	return nil, fmt.Errorf("download %s after %d attempts: %w", providerMsgID, downloadRetries, lastErr)
}

func uazapiBase64(body []byte) string {
	for _, path := range [][]string{{"base64"}, {"file", "base64"}, {"data", "base64"}} {
		if s, err := jsonparser.GetString(body, path...); err == nil && s != "" {
			return s
		}
	}
	return ""
}
