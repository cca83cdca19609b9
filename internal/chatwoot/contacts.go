package chatwoot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/wootrico/wabridge/internal/phone"
)

// Contact is the slice of the Chatwoot contact resource the bridge
// uses.
type Contact struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Identifier  string `json:"identifier"`
	PhoneNumber string `json:"phone_number"`
}

// ContactSeed is the identity material for find-or-create. Identifier
// is the lookup key: a group id, a lid/jid handle or an E.164 phone.
// Phone is attached to new contacts only when it is strict E.164, so
// group and handle identities never grow a phone number.
type ContactSeed struct {
	Name       string
	Identifier string
	Phone      string
	AvatarURL  string
}

// FindOrCreateContact returns the contact matching the seed identity,
// creating it when the search comes back empty.
func (c *Client) FindOrCreateContact(ctx context.Context, seed ContactSeed) (*Contact, error) {
	if seed.Identifier == "" {
		return nil, ErrMissingIdentifier
	}
	if seed.Name == "" {
		seed.Name = seed.Identifier
	}

	found, err := c.searchContact(ctx, seed.Identifier)
	if err != nil {
		return nil, err
	}
	if found != nil {
		return found, nil
	}
	return c.createContact(ctx, seed)
}

// searchContact queries /contacts/search and applies the matching rule:
// E.164 keys match on phone_number, everything else (group ids, lid and
// jid handles) matches on identifier.
func (c *Client) searchContact(ctx context.Context, key string) (*Contact, error) {
	var list struct {
		Payload []Contact `json:"payload"`
	}
	u := c.accountURL("/contacts/search") + "?q=" + url.QueryEscape(key)
	if err := c.doJSON(ctx, c.http, http.MethodGet, u, nil, &list); err != nil {
		return nil, fmt.Errorf("search contacts: %w", err)
	}

	byPhone := phone.IsE164(key)
	for i := range list.Payload {
		cand := &list.Payload[i]
		if byPhone {
			if cand.PhoneNumber == key {
				return cand, nil
			}
			continue
		}
		if cand.Identifier == key {
			return cand, nil
		}
	}
	return nil, nil
}

func (c *Client) createContact(ctx context.Context, seed ContactSeed) (*Contact, error) {
	fields := map[string]string{
		"name":       seed.Name,
		"identifier": seed.Identifier,
	}
	if phone.IsE164(seed.Phone) {
		fields["phone_number"] = seed.Phone
	}

	if seed.AvatarURL != "" {
		contact, err := c.createContactWithAvatar(ctx, fields, seed.AvatarURL)
		if err == nil {
			return contact, nil
		}
		log.Warn().Err(err).Str("identifier", seed.Identifier).Msg("avatar upload failed, creating contact without it")
	}

	body := make(map[string]any, len(fields))
	for k, v := range fields {
		body[k] = v
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("encode contact: %w", err)
	}
	data, err := c.postContact(ctx, "application/json", &buf)
	if err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}
	return decodeContact(data)
}

// createContactWithAvatar downloads the profile picture and posts the
// contact as multipart with the avatar attached. Any failure falls back
// to the plain create in the caller.
func (c *Client) createContactWithAvatar(ctx context.Context, fields map[string]string, avatarURL string) (*Contact, error) {
	avatar, err := c.fetchWithRetry(ctx, avatarURL, avatarRetries)
	if err != nil {
		return nil, fmt.Errorf("download avatar: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	part, err := w.CreateFormFile("avatar", "avatar.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(avatar); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	data, err := c.postContact(ctx, w.FormDataContentType(), &buf)
	if err != nil {
		return nil, err
	}
	return decodeContact(data)
}

// postContact sends the prepared body to POST /contacts and returns the
// raw response bytes.
func (c *Client) postContact(ctx context.Context, contentType string, body *bytes.Buffer) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.accountURL("/contacts"), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("api_access_token", c.cfg.Token)

	resp, err := c.mediaHTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &apiError{Status: resp.StatusCode, Body: truncate(data, 200)}
	}
	return data, nil
}

// decodeContact tolerates the response shapes Chatwoot has shipped:
// payload.contact, payload as the contact, or the contact at the root.
func decodeContact(data []byte) (*Contact, error) {
	var wrapped struct {
		Payload struct {
			Contact *Contact `json:"contact"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Payload.Contact != nil && wrapped.Payload.Contact.ID != 0 {
		return wrapped.Payload.Contact, nil
	}

	var flat struct {
		Payload *Contact `json:"payload"`
	}
	if err := json.Unmarshal(data, &flat); err == nil && flat.Payload != nil && flat.Payload.ID != 0 {
		return flat.Payload, nil
	}

	var root Contact
	if err := json.Unmarshal(data, &root); err == nil && root.ID != 0 {
		return &root, nil
	}
	return nil, ErrNoContactID
}
