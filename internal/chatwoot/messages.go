package chatwoot

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wootrico/wabridge/internal/payload"
)

// TextOptions tunes a plain message send.
type TextOptions struct {
	MessageType string
	ReplyToID   int
}

// MediaMessage describes one attachment send. URL and Base64 are
// alternative sources; Origin and ProviderMsgID drive the provider
// download hook for dialects that stage media behind their own API.
type MediaMessage struct {
	Content       string
	MessageType   string
	ReplyToID     int
	Kind          payload.Kind
	FileName      string
	URL           string
	Base64        string
	Origin        payload.Origin
	ProviderMsgID string
}

type messageResponse struct {
	ID int `json:"id"`
}

func (c *Client) messagesURL(conversationID int) string {
	return c.accountURL(fmt.Sprintf("/conversations/%d/messages", conversationID))
}

// SendText posts a plain message and returns its helpdesk id. Text
// sends are not throttled and not retried.
func (c *Client) SendText(ctx context.Context, conversationID int, content string, opts TextOptions) (int, error) {
	if opts.MessageType == "" {
		opts.MessageType = MessageIncoming
	}

	body := map[string]any{
		"content":      content,
		"message_type": opts.MessageType,
		"private":      false,
	}
	if opts.ReplyToID != 0 {
		body["content_attributes"] = map[string]any{"in_reply_to": opts.ReplyToID}
	}

	var resp messageResponse
	if err := c.doJSON(ctx, c.http, http.MethodPost, c.messagesURL(conversationID), body, &resp); err != nil {
		return 0, fmt.Errorf("send text: %w", err)
	}
	if resp.ID == 0 {
		return 0, ErrNoMessageID
	}
	return resp.ID, nil
}

// SendMedia posts one multipart message with the attachment bytes. The
// bytes come from the provider download hook, the public URL or the
// inline base64, in that order. With no usable source the caption goes
// out as plain text; a caption-less miss is an error. Media posts are
// serialized and spaced by the throttle, retried on transient failures
// and degraded to a caption-only text as a last resort.
func (c *Client) SendMedia(ctx context.Context, conversationID int, m MediaMessage) (int, error) {
	if m.MessageType == "" {
		m.MessageType = MessageIncoming
	}

	data, filename := c.resolveMedia(ctx, m)
	if len(data) == 0 {
		if m.Content == "" {
			return 0, ErrNoMediaSource
		}
		log.Warn().
			Str("kind", string(m.Kind)).
			Int("conversationId", conversationID).
			Msg("no media source produced bytes, sending caption as text")
		return c.SendText(ctx, conversationID, m.Content, TextOptions{MessageType: m.MessageType, ReplyToID: m.ReplyToID})
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if wait := c.cfg.MediaThrottle - time.Since(c.lastMedia); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	id, err := c.postMediaWithRetry(ctx, conversationID, m, data, filename)
	c.lastMedia = time.Now()
	if err == nil {
		return id, nil
	}

	if m.Content != "" {
		fid, ferr := c.SendText(ctx, conversationID, m.Content, TextOptions{MessageType: m.MessageType, ReplyToID: m.ReplyToID})
		if ferr == nil {
			log.Warn().Err(err).Int("conversationId", conversationID).Msg("media post failed, delivered caption as text")
			return fid, nil
		}
	}
	return 0, err
}

// DeleteMessage removes a helpdesk message. Deletes are not retried.
func (c *Client) DeleteMessage(ctx context.Context, conversationID, messageID int) error {
	u := c.accountURL(fmt.Sprintf("/conversations/%d/messages/%d", conversationID, messageID))
	if err := c.doJSON(ctx, c.http, http.MethodDelete, u, nil, nil); err != nil {
		return fmt.Errorf("delete message %d: %w", messageID, err)
	}
	return nil
}

func (c *Client) postMediaWithRetry(ctx context.Context, conversationID int, m MediaMessage, data []byte, filename string) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= mediaRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(time.Duration(attempt-1) * c.retryDelay):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}

		id, err := c.postMedia(ctx, conversationID, m, data, filename)
		if err == nil {
			return id, nil
		}
		if !retryableError(err) {
			return 0, err
		}
		lastErr = err
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("conversationId", conversationID).
			Msg("media post failed")
	}
	return 0, fmt.Errorf("media post after %d attempts: %w", mediaRetries, lastErr)
}

func (c *Client) postMedia(ctx context.Context, conversationID int, m MediaMessage, data []byte, filename string) (int, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("content", m.Content); err != nil {
		return 0, err
	}
	if err := w.WriteField("message_type", m.MessageType); err != nil {
		return 0, err
	}
	if err := w.WriteField("private", "false"); err != nil {
		return 0, err
	}
	if m.ReplyToID != 0 {
		if err := w.WriteField("content_attributes[in_reply_to]", strconv.Itoa(m.ReplyToID)); err != nil {
			return 0, err
		}
	}
	part, err := w.CreateFormFile("attachments[]", filename)
	if err != nil {
		return 0, err
	}
	if _, err := part.Write(data); err != nil {
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messagesURL(conversationID), &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("api_access_token", c.cfg.Token)

	resp, err := c.mediaHTTP.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &apiError{Status: resp.StatusCode, Body: truncate(respBody, 200)}
	}

	var out messageResponse
	if err := json.Unmarshal(respBody, &out); err != nil || out.ID == 0 {
		return 0, ErrNoMessageID
	}
	return out.ID, nil
}

// resolveMedia produces the attachment bytes. UAZAPI stages media
// behind its own download endpoint, so the hook wins when installed;
// the public URL and the inline base64 follow. An empty result degrades
// to a text send upstream.
func (c *Client) resolveMedia(ctx context.Context, m MediaMessage) ([]byte, string) {
	filename := m.FileName
	if filename == "" {
		filename = defaultFileName(m.Kind)
	}

	if m.Origin == payload.OriginUazapi && m.ProviderMsgID != "" && c.download != nil {
		data, err := c.download(ctx, m.ProviderMsgID)
		if err == nil && len(data) > 0 {
			return data, filename
		}
		if err != nil {
			log.Warn().Err(err).Str("providerMessageId", m.ProviderMsgID).Msg("provider media download failed, trying url")
		}
	}

	if m.URL != "" {
		data, err := c.fetchWithRetry(ctx, m.URL, mediaRetries)
		if err == nil && len(data) > 0 {
			if m.FileName == "" {
				if base := fileNameFromURL(m.URL); base != "" {
					filename = base
				}
			}
			return data, filename
		}
		if err != nil {
			log.Warn().Err(err).Msg("media url download failed")
		}
	}

	if m.Base64 != "" {
		data, err := base64.StdEncoding.DecodeString(payload.SanitizeBase64(m.Base64))
		if err == nil && len(data) > 0 {
			return data, filename
		}
		if err != nil {
			log.Warn().Err(err).Msg("inline media base64 did not decode")
		}
	}

	return nil, filename
}

func defaultFileName(kind payload.Kind) string {
	switch kind {
	case payload.KindImage:
		return "image.jpg"
	case payload.KindAudio:
		return "audio.ogg"
	case payload.KindVideo:
		return "video.mp4"
	case payload.KindDocument:
		return "document.bin"
	default:
		return "attachment.bin"
	}
}

func fileNameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return ""
	}
	return base
}
