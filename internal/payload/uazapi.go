package payload

import (
	"strings"

	"github.com/wootrico/wabridge/internal/phone"
)

// extractUazapi normalizes a UAZAPI webhook. The interesting data lives
// under "message" (sender, chatid, content, media descriptors) with a
// sibling "chat" object carrying the conversation metadata. Media is
// not inlined: the file URL may be present but the reliable path is the
// separate download endpoint keyed by message id.
func extractUazapi(body []byte, opts Options) (*Event, error) {
	ev := &Event{Origin: OriginUazapi}

	ev.MessageID = firstString(body,
		[]string{"message", "id"},
		[]string{"message", "messageid"},
	)
	ev.FromMe = getBool(body, "message", "fromMe")
	ev.FromAPI = getBool(body, "message", "fromApi")
	ev.Status = getString(body, "message", "status")
	ev.SenderName = firstString(body,
		[]string{"message", "senderName"},
		[]string{"chat", "name"},
	)

	chatID := getString(body, "message", "chatid")
	sender := getString(body, "message", "sender")
	groupID := firstString(body, []string{"chat", "wa_chatid"}, []string{"message", "chatid"})

	ev.IsGroup = getBool(body, "message", "isgroup") ||
		getBool(body, "chat", "wa_isGroup") ||
		strings.HasSuffix(chatID, "@g.us")

	if ev.IsGroup {
		ev.Phone = groupID
		ev.GroupName = getString(body, "chat", "name")
		ev.Name = ev.GroupName
		if ev.Name == "" {
			ev.Name = groupID
		}
	} else {
		switch {
		case strings.HasSuffix(chatID, "@lid"):
			ev.LID = chatID
		case chatID != "":
			if normalized, err := phone.Normalize(phone.Digits(chatID), opts.DefaultCountry); err == nil {
				ev.Phone = normalized
			} else if strings.HasSuffix(chatID, "@s.whatsapp.net") {
				ev.JID = chatID
			}
		case strings.HasSuffix(sender, "@lid"):
			ev.LID = sender
		}
		ev.Name = ev.SenderName
		ev.SenderPhoto = firstString(body,
			[]string{"chat", "image"},
			[]string{"chat", "imagePreview"},
		)
	}

	ev.ReplyID = firstString(body,
		[]string{"message", "quoted"},
		[]string{"message", "replyid"},
	)
	ev.EditedMessageID = getString(body, "message", "edited")

	ev.Text = getString(body, "message", "text")
	if ev.Text == "" {
		// Simple text messages carry the body in "content"; structured
		// messages reuse the field for a serialized payload, which is
		// useless as display text.
		if s := getString(body, "message", "content"); s != "" && !strings.HasPrefix(strings.TrimSpace(s), "{") {
			ev.Text = s
		}
	}

	ev.MediaKind = uazapiMediaKind(
		getString(body, "message", "mediaType"),
		getString(body, "message", "messageType"),
	)
	if ev.MediaKind != "" {
		ev.Media = getString(body, "message", "file")
		ev.FileName = firstString(body,
			[]string{"message", "docName"},
			[]string{"message", "fileName"},
		)
		if caption := getString(body, "message", "caption"); caption != "" {
			ev.Text = caption
		}
	}

	return ev, nil
}

func uazapiMediaKind(mediaType, messageType string) Kind {
	switch strings.ToLower(mediaType) {
	case "image":
		return KindImage
	case "audio", "ptt", "voice":
		return KindAudio
	case "video":
		return KindVideo
	case "document", "file":
		return KindDocument
	}
	switch messageType {
	case "ImageMessage":
		return KindImage
	case "AudioMessage", "PttMessage":
		return KindAudio
	case "VideoMessage":
		return KindVideo
	case "DocumentMessage":
		return KindDocument
	}
	return ""
}
