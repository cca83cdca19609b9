package bridge

import (
	"github.com/wootrico/wabridge/internal/integration"
	"github.com/wootrico/wabridge/internal/mapping"
	"github.com/wootrico/wabridge/internal/payload"
	"github.com/wootrico/wabridge/internal/provider"
	"github.com/wootrico/wabridge/internal/ticket"
)

// Drop reasons, logged whenever an event leaves the pipeline without a
// delivery. Events are acknowledged either way.
const (
	ReasonUnknownOrigin          = "unknown_origin"
	ReasonIntegrationNotFound    = "integration_not_found"
	ReasonEventNotMessageCreated = "event_not_message_created"
	ReasonMessageNotOutgoing     = "message_not_outgoing"
	ReasonPrivateMessage         = "mensagem_privada"
	ReasonTicketConsumed         = "ticket_consumed"
	ReasonChatwootTicketConsumed = "chatwoot_ticket_consumed"
	ReasonMessageIDNotFound      = "whatsapp_message_id_not_found"
	ReasonDeletedWithoutMapping  = "deleted_message_without_mapping"
	ReasonMessagesUpdateIgnored  = "messages_update_ignored"
	ReasonNotificationIgnored    = "zapi_notification_ignored"
	ReasonEmptyMessage           = "empty_message"
	ReasonRecipientNotFound      = "recipient_not_found"
)

// EditMarker is appended when an edited message is re-delivered to the
// helpdesk as a reply to the original.
const EditMarker = "(*mensagem editada pelo usuário*)"

// Processor runs both pipeline directions. One instance serves every
// tenant: the registry routes events, the ledger suppresses echoes and
// the cache links message ids across systems.
type Processor struct {
	registry *integration.Registry
	ledger   *ticket.Ledger
	cache    *mapping.Cache
}

func New(registry *integration.Registry, ledger *ticket.Ledger, cache *mapping.Cache) *Processor {
	return &Processor{registry: registry, ledger: ledger, cache: cache}
}

// creditKey is the echo-ledger recipient key. Both directions must
// derive the same string for one chat: the E.164 phone wins for direct
// chats, group identifiers pass verbatim, and lid/jid handles serve
// contacts that never exposed a phone.
func creditKey(ev *payload.Event) string {
	if ev.IsGroup {
		return ev.Phone
	}
	for _, k := range []string{ev.Phone, ev.LID, ev.JID} {
		if k != "" {
			return k
		}
	}
	return ""
}

func kindOf(ev *payload.Event) string {
	if ev.MediaKind != "" {
		return string(ev.MediaKind)
	}
	return string(payload.KindText)
}

// contactIdentifier is the helpdesk identity key: the group id for
// groups, otherwise the most provider-native handle available so the
// same chat always lands on the same contact.
func contactIdentifier(ev *payload.Event) string {
	if ev.IsGroup {
		return ev.Phone
	}
	for _, k := range []string{ev.LID, ev.JID, ev.Phone} {
		if k != "" {
			return k
		}
	}
	return ""
}

func displayName(ev *payload.Event) string {
	if ev.IsGroup {
		if ev.GroupName != "" {
			return ev.GroupName
		}
		return ev.Phone
	}
	if ev.Name != "" {
		return ev.Name
	}
	if ev.SenderName != "" {
		return ev.SenderName
	}
	return contactIdentifier(ev)
}

func dialectOf(origin payload.Origin) provider.Dialect {
	return provider.Dialect(origin)
}
