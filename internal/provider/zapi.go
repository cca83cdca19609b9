package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/wootrico/wabridge/internal/payload"
)

// zapiURL builds the per-instance endpoint. Credentials ride in the
// path; the Client-Token header is added by authorize.
func (c *Client) zapiURL(path string) string {
	return fmt.Sprintf("%s/instances/%s/token/%s%s", c.cfg.BaseURL, c.cfg.Instance, c.cfg.Token, path)
}

type zapiTextRequest struct {
	Phone     string `json:"phone"`
	Message   string `json:"message"`
	MessageID string `json:"messageId,omitempty"`
}

func (c *Client) zapiSendText(ctx context.Context, in SendInput) (string, error) {
	body, err := c.doJSON(ctx, "POST", c.zapiURL("/send-text"), zapiTextRequest{
		Phone:     c.recipient(in.Recipient),
		Message:   in.Content,
		MessageID: in.ReplyTo,
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

func (c *Client) zapiSendAttachment(ctx context.Context, in SendInput, att Attachment, text string) (string, error) {
	recipient := c.recipient(in.Recipient)
	media := att.URL
	if media == "" {
		media = att.Base64
	}

	var (
		path    string
		request any
	)
	switch att.Kind {
	case payload.KindImage:
		path = "/send-image"
		request = struct {
			Phone   string `json:"phone"`
			Image   string `json:"image"`
			Caption string `json:"caption,omitempty"`
		}{recipient, media, text}
	case payload.KindAudio:
		path = "/send-audio"
		request = struct {
			Phone string `json:"phone"`
			Audio string `json:"audio"`
		}{recipient, media}
	case payload.KindVideo:
		path = "/send-video"
		request = struct {
			Phone   string `json:"phone"`
			Video   string `json:"video"`
			Caption string `json:"caption,omitempty"`
		}{recipient, media, text}
	case payload.KindDocument:
		path = "/send-document/" + documentExtension(att)
		request = struct {
			Phone    string `json:"phone"`
			Document string `json:"document"`
			FileName string `json:"fileName,omitempty"`
			Caption  string `json:"caption,omitempty"`
		}{recipient, media, att.FileName, text}
	default:
		return "", fmt.Errorf("zapi: unsupported attachment kind %q", att.Kind)
	}

	body, err := c.doJSON(ctx, "POST", c.zapiURL(path), request)
	if err != nil {
		return "", err
	}
	id := extractMessageID(body)
	if id == "" {
		return "", ErrNoMessageID
	}
	return id, nil
}

// zapiDelete revokes a message. Z-API keys the revoke by message id and
// chat, so a missing recipient is fatal here and only here.
func (c *Client) zapiDelete(ctx context.Context, providerMsgID, recipient string) error {
	if recipient == "" {
		return ErrMissingRecipient
	}
	q := url.Values{}
	q.Set("messageId", providerMsgID)
	q.Set("phone", c.recipient(recipient))
	q.Set("owner", "true")

	_, err := c.doJSON(ctx, "DELETE", c.zapiURL("/messages")+"?"+q.Encode(), nil)
	return err
}

// documentExtension picks the /send-document suffix from the URL tail,
// then the filename, then a generic fallback.
func documentExtension(att Attachment) string {
	if ext := extensionOf(att.URL); ext != "" {
		return ext
	}
	if ext := extensionOf(att.FileName); ext != "" {
		return ext
	}
	return "bin"
}

func extensionOf(s string) string {
	if s == "" {
		return ""
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	dot := strings.LastIndexByte(s, '.')
	if dot < 0 || dot == len(s)-1 {
		return ""
	}
	ext := strings.ToLower(s[dot+1:])
	if len(ext) > 5 || strings.ContainsAny(ext, "/\\") {
		return ""
	}
	return ext
}
