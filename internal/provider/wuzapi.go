package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wootrico/wabridge/internal/payload"
	"github.com/wootrico/wabridge/internal/phone"
)

type wuzapiContextInfo struct {
	StanzaID    string `json:"StanzaId"`
	Participant string `json:"Participant"`
}

type wuzapiTextRequest struct {
	Phone       string             `json:"Phone"`
	Body        string             `json:"Body"`
	ContextInfo *wuzapiContextInfo `json:"ContextInfo,omitempty"`
}

func (c *Client) wuzapiSendText(ctx context.Context, in SendInput) (string, error) {
	body, err := c.doJSON(ctx, "POST", c.cfg.BaseURL+"/chat/send/text", wuzapiTextRequest{
		Phone:       c.recipient(in.Recipient),
		Body:        in.Content,
		ContextInfo: c.wuzapiReply(in),
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

func (c *Client) wuzapiSendAttachment(ctx context.Context, in SendInput, att Attachment, text string) (string, error) {
	dataURI, err := c.wuzapiDataURI(ctx, att)
	if err != nil {
		return "", err
	}
	recipient := c.recipient(in.Recipient)

	var (
		path    string
		request any
	)
	switch att.Kind {
	case payload.KindImage:
		path = "/chat/send/image"
		request = struct {
			Phone   string `json:"Phone"`
			Image   string `json:"Image"`
			Caption string `json:"Caption,omitempty"`
		}{recipient, dataURI, text}
	case payload.KindAudio:
		path = "/chat/send/audio"
		request = struct {
			Phone string `json:"Phone"`
			Audio string `json:"Audio"`
		}{recipient, dataURI}
	case payload.KindVideo:
		path = "/chat/send/video"
		request = struct {
			Phone   string `json:"Phone"`
			Video   string `json:"Video"`
			Caption string `json:"Caption,omitempty"`
		}{recipient, dataURI, text}
	case payload.KindDocument:
		path = "/chat/send/document"
		request = struct {
			Phone    string `json:"Phone"`
			Document string `json:"Document"`
			FileName string `json:"FileName,omitempty"`
		}{recipient, dataURI, att.FileName}
	default:
		return "", fmt.Errorf("wuzapi: unsupported attachment kind %q", att.Kind)
	}

	body, err := c.doJSON(ctx, "POST", c.cfg.BaseURL+path, request)
	if err != nil {
		return "", err
	}
	id := extractMessageID(body)
	if id == "" {
		return "", ErrNoMessageID
	}
	return id, nil
}

func (c *Client) wuzapiDelete(ctx context.Context, providerMsgID string) error {
	_, err := c.doJSON(ctx, "POST", c.cfg.BaseURL+"/chat/delete", map[string]string{
		"MessageId": providerMsgID,
	})
	return err
}

// wuzapiReply builds the quoted-message context. The participant falls
// back to the recipient's jid, which is the quoted author in a direct
// chat.
func (c *Client) wuzapiReply(in SendInput) *wuzapiContextInfo {
	if in.ReplyTo == "" {
		return nil
	}
	participant := in.JID
	if participant == "" {
		if payload.IsGroupIdentifier(in.Recipient) {
			participant = in.Recipient
		} else {
			participant = phone.Digits(in.Recipient) + "@s.whatsapp.net"
		}
	}
	return &wuzapiContextInfo{StanzaID: in.ReplyTo, Participant: participant}
}

// wuzapiDataURI produces the base64 data URI the wuzapi endpoints
// expect, downloading URL attachments first.
func (c *Client) wuzapiDataURI(ctx context.Context, att Attachment) (string, error) {
	if att.Base64 != "" {
		if strings.HasPrefix(att.Base64, "data:") {
			return att.Base64, nil
		}
		return "data:" + defaultMime(att.Kind) + ";base64," + payload.SanitizeBase64(att.Base64), nil
	}
	if att.URL == "" {
		return "", fmt.Errorf("wuzapi: attachment has neither url nor base64")
	}

	data, mime, err := c.downloadURL(ctx, att.URL)
	if err != nil {
		return "", err
	}
	if mime == "" {
		mime = defaultMime(att.Kind)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// downloadURL fetches a media URL with bounded retries on transport
// errors and 5xx responses.
func (c *Client) downloadURL(ctx context.Context, url string) ([]byte, string, error) {
	client := &http.Client{Timeout: 30 * time.Second}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return nil, "", ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
		if err != nil {
			return nil, "", fmt.Errorf("build download request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Str("url", url).Int("attempt", attempt).Msg("attachment download failed, retrying")
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 500 || readErr != nil || (resp.StatusCode == 200 && len(data) == 0) {
			lastErr = fmt.Errorf("download %s: status %d: %v", url, resp.StatusCode, readErr)
			continue
		}
		if resp.StatusCode != 200 {
			return nil, "", fmt.Errorf("download %s: status %d", url, resp.StatusCode)
		}
		return data, resp.Header.Get("Content-Type"), nil
	}
	return nil, "", fmt.Errorf("download %s: %w", url, lastErr)
}

func defaultMime(kind payload.Kind) string {
	switch kind {
	case payload.KindImage:
		return "image/jpeg"
	case payload.KindAudio:
		return "audio/ogg"
	case payload.KindVideo:
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}
