package payload

import (
	"strings"

	"github.com/wootrico/wabridge/internal/phone"
)

// extractZapi normalizes a Z-API ReceivedCallback payload. Z-API sends
// one flat object per message: the remote party rides in "phone"
// (digits for direct chats, "<id>-group" for groups) and media arrives
// as a typed sub-object holding a public URL.
func extractZapi(body []byte, opts Options) (*Event, error) {
	ev := &Event{Origin: OriginZapi}

	ev.MessageID = getString(body, "messageId")
	ev.FromMe = getBool(body, "fromMe")
	ev.FromAPI = getBool(body, "fromApi")
	ev.Status = getString(body, "status")
	ev.SenderName = getString(body, "senderName")

	rawPhone := getString(body, "phone")
	ev.IsGroup = getBool(body, "isGroup") || strings.HasSuffix(rawPhone, "-group")

	if ev.IsGroup {
		ev.Phone = rawPhone
		ev.GroupName = getString(body, "chatName")
		ev.Name = ev.GroupName
		if ev.Name == "" {
			ev.Name = rawPhone
		}
	} else {
		if normalized, err := phone.Normalize(rawPhone, opts.DefaultCountry); err == nil {
			ev.Phone = normalized
		} else {
			ev.Phone = rawPhone
		}
		ev.Name = firstString(body, []string{"senderName"}, []string{"chatName"})
		ev.SenderPhoto = firstString(body, []string{"senderPhoto"}, []string{"photo"})
	}

	ev.ReplyID = firstString(body,
		[]string{"referenceMessageId"},
		[]string{"text", "referenceMessageId"},
	)
	ev.EditedMessageID = getString(body, "editedMessageId")

	ev.Text = getString(body, "text", "message")

	switch {
	case hasKey(body, "image"):
		ev.MediaKind = KindImage
		ev.Media = getString(body, "image", "imageUrl")
		ev.Text = getString(body, "image", "caption")
	case hasKey(body, "audio"):
		ev.MediaKind = KindAudio
		ev.Media = getString(body, "audio", "audioUrl")
	case hasKey(body, "video"):
		ev.MediaKind = KindVideo
		ev.Media = getString(body, "video", "videoUrl")
		ev.Text = getString(body, "video", "caption")
	case hasKey(body, "document"):
		ev.MediaKind = KindDocument
		ev.Media = getString(body, "document", "documentUrl")
		ev.FileName = getString(body, "document", "fileName")
		ev.Text = getString(body, "document", "caption")
	}

	return ev, nil
}
