package payload

import (
	"errors"

	"github.com/buger/jsonparser"
)

// Origin identifies which provider dialect produced a webhook payload.
type Origin string

const (
	OriginZapi    Origin = "zapi"
	OriginUazapi  Origin = "uazapi"
	OriginWuzapi  Origin = "wuzapi"
	OriginUnknown Origin = "unknown"
)

// Kind classifies message content for sending and echo accounting.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindAudio    Kind = "audio"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
)

// ReasonGroupDisconsidered tags events dropped by the per-tenant
// group-ignore policy.
const ReasonGroupDisconsidered = "group_disconsidered"

// ErrUnknownOrigin is returned when no dialect signature matches.
var ErrUnknownOrigin = errors.New("payload: unknown provider origin")

// Event is the canonical form every dialect collapses into. Group
// identifiers ride in Phone verbatim (never E.164-normalized); LID and
// JID are only populated when no usable phone exists so the identity
// key degrades gracefully.
type Event struct {
	Origin          Origin
	Phone           string
	LID             string
	JID             string
	Text            string
	Name            string
	SenderPhoto     string
	Media           string
	MediaKind       Kind
	FileName        string
	IsGroup         bool
	FromMe          bool
	FromAPI         bool
	Status          string
	MessageID       string
	ReplyID         string
	GroupName       string
	SenderName      string
	EditedMessageID string
	Ignored         bool
	IgnoreReason    string
}

// Options carries the per-tenant policy the normalizer honours.
type Options struct {
	IgnoreGroups   bool
	DefaultCountry string
}

// DetectOrigin classifies a raw webhook body by structural signature:
// phone+momment is Z-API, message.content+message.sender is UAZAPI, and
// event.Info+event.Message under type=="Message" is Wuzapi.
func DetectOrigin(body []byte) Origin {
	if hasKey(body, "phone") && hasKey(body, "momment") {
		return OriginZapi
	}
	if hasKey(body, "message", "content") && hasKey(body, "message", "sender") {
		return OriginUazapi
	}
	if t, _ := jsonparser.GetString(body, "type"); t == "Message" &&
		hasKey(body, "event", "Info") && hasKey(body, "event", "Message") {
		return OriginWuzapi
	}
	return OriginUnknown
}

// Normalize collapses a raw webhook body into an Event, dispatching on
// the detected dialect. Group events are flagged ignored when the
// tenant's policy says so; avatars are never kept for groups.
func Normalize(body []byte, opts Options) (*Event, error) {
	var (
		ev  *Event
		err error
	)
	switch DetectOrigin(body) {
	case OriginZapi:
		ev, err = extractZapi(body, opts)
	case OriginUazapi:
		ev, err = extractUazapi(body, opts)
	case OriginWuzapi:
		ev, err = extractWuzapi(body, opts)
	default:
		return nil, ErrUnknownOrigin
	}
	if err != nil {
		return nil, err
	}

	if ev.IsGroup {
		ev.SenderPhoto = ""
		if opts.IgnoreGroups {
			ev.Ignored = true
			ev.IgnoreReason = ReasonGroupDisconsidered
		}
	}
	return ev, nil
}

// IsGroupIdentifier reports whether id uses one of the group wire
// shapes. Group identifiers are used verbatim and never normalized.
func IsGroupIdentifier(id string) bool {
	return hasSuffix(id, "@g.us") || hasSuffix(id, "-group")
}

func hasKey(body []byte, keys ...string) bool {
	_, dt, _, err := jsonparser.Get(body, keys...)
	return err == nil && dt != jsonparser.NotExist && dt != jsonparser.Null
}

func getString(body []byte, keys ...string) string {
	s, err := jsonparser.GetString(body, keys...)
	if err != nil {
		return ""
	}
	return s
}

func getBool(body []byte, keys ...string) bool {
	b, err := jsonparser.GetBoolean(body, keys...)
	if err != nil {
		return false
	}
	return b
}

func firstString(body []byte, paths ...[]string) string {
	for _, p := range paths {
		if s := getString(body, p...); s != "" {
			return s
		}
	}
	return ""
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}
