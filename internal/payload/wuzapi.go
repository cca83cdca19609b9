package payload

import (
	"strings"

	"github.com/wootrico/wabridge/internal/phone"
)

// extractWuzapi normalizes a Wuzapi event. The envelope nests the
// whatsmeow structures: routing metadata under event.Info (Chat,
// Sender, IsFromMe, IsGroup, PushName, MediaType) and the protocol
// message under event.Message. Media arrives inline as base64 in the
// URL-safe alphabet, which gets repaired here. Wuzapi has no edit
// marker and no API-origin flag on the wire.
func extractWuzapi(body []byte, opts Options) (*Event, error) {
	ev := &Event{Origin: OriginWuzapi}

	ev.MessageID = getString(body, "event", "Info", "ID")
	ev.FromMe = getBool(body, "event", "Info", "IsFromMe")
	ev.SenderName = getString(body, "event", "Info", "PushName")

	chat := getString(body, "event", "Info", "Chat")
	ev.IsGroup = getBool(body, "event", "Info", "IsGroup") || strings.HasSuffix(chat, "@g.us")

	if ev.IsGroup {
		ev.Phone = chat
		ev.Name = chat
	} else {
		switch {
		case strings.HasSuffix(chat, "@lid"):
			ev.LID = chat
		case chat != "":
			if normalized, err := phone.Normalize(phone.Digits(chat), opts.DefaultCountry); err == nil {
				ev.Phone = normalized
			} else if strings.HasSuffix(chat, "@s.whatsapp.net") {
				ev.JID = chat
			}
		}
		ev.Name = ev.SenderName
	}

	ev.ReplyID = firstString(body,
		[]string{"event", "Message", "extendedTextMessage", "contextInfo", "stanzaID"},
		[]string{"event", "Message", "extendedTextMessage", "contextInfo", "stanzaId"},
	)

	ev.Text = firstString(body,
		[]string{"event", "Message", "conversation"},
		[]string{"event", "Message", "extendedTextMessage", "text"},
	)

	ev.MediaKind = wuzapiMediaKind(body)
	if ev.MediaKind != "" {
		if b64 := firstString(body, []string{"event", "base64"}, []string{"base64"}); b64 != "" {
			ev.Media = SanitizeBase64(b64)
		}
		switch ev.MediaKind {
		case KindImage:
			ev.Text = getString(body, "event", "Message", "imageMessage", "caption")
		case KindVideo:
			ev.Text = getString(body, "event", "Message", "videoMessage", "caption")
		case KindDocument:
			ev.Text = getString(body, "event", "Message", "documentMessage", "caption")
			ev.FileName = firstString(body,
				[]string{"event", "Message", "documentMessage", "fileName"},
				[]string{"event", "Message", "documentMessage", "title"},
			)
		}
	}

	return ev, nil
}

func wuzapiMediaKind(body []byte) Kind {
	switch strings.ToLower(getString(body, "event", "Info", "MediaType")) {
	case "image":
		return KindImage
	case "audio", "ptt", "vnote":
		return KindAudio
	case "video":
		return KindVideo
	case "document":
		return KindDocument
	}
	switch {
	case hasKey(body, "event", "Message", "imageMessage"):
		return KindImage
	case hasKey(body, "event", "Message", "audioMessage"):
		return KindAudio
	case hasKey(body, "event", "Message", "videoMessage"):
		return KindVideo
	case hasKey(body, "event", "Message", "documentMessage"):
		return KindDocument
	}
	return ""
}
