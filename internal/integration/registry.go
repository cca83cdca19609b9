package integration

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wootrico/wabridge/internal/chatwoot"
	"github.com/wootrico/wabridge/internal/config"
	"github.com/wootrico/wabridge/internal/phone"
	"github.com/wootrico/wabridge/internal/provider"
)

// recognizedBases are the environment names whose _<n> suffixes imply a
// numbered tenant. INTEGRATIONS can list ids explicitly on top.
var recognizedBases = []string{
	"CHATWOOT_BASE_URL",
	"CHATWOOT_API_TOKEN",
	"CHATWOOT_ACCOUNT_ID",
	"CHATWOOT_INBOX_NAME",
	"UAZAPI_BASE_URL",
	"UAZAPI_TOKEN",
	"UAZAPI_NUMBER",
	"ZAPI_INSTANCE",
	"ZAPI_TOKEN",
	"ZAPI_CLIENT_TOKEN",
	"WUZAPI_BASE_URL",
	"WUZAPI_TOKEN",
}

const defaultCountryFallback = "BR"

// ErrNoIntegrations means every discovered tenant failed to load.
var ErrNoIntegrations = errors.New("integration: no integrations could be loaded")

// Integration binds one helpdesk account to one provider account plus
// the per-tenant policies.
type Integration struct {
	ID                 string
	DefaultCountry     string
	ReopenResolved     bool
	IgnoreGroups       bool
	SignAgentMessages  bool
	ConversationStatus string

	Chatwoot *chatwoot.Client
	Provider *provider.Client
}

// Registry holds the loaded integrations and answers the routing
// lookups both pipeline directions need.
type Registry struct {
	list []*Integration
	byID map[string]*Integration
}

// NewRegistry builds a registry from explicit integrations.
func NewRegistry(list ...*Integration) *Registry {
	r := &Registry{list: list, byID: make(map[string]*Integration, len(list))}
	for _, itg := range list {
		r.byID[itg.ID] = itg
	}
	return r
}

// Load discovers tenant ids in the environment and builds one
// Integration per id. A tenant that fails to load is logged and
// skipped; Load only fails when nothing loads at all.
func Load() (*Registry, error) {
	ids := config.DiscoverIDs(recognizedBases, "INTEGRATIONS")
	if len(ids) == 0 {
		ids = []string{config.DefaultTenantID}
	}

	var (
		loaded   []*Integration
		failures []string
	)
	for _, id := range ids {
		itg, err := loadOne(id)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", id, err))
			log.Warn().Err(err).Str("integration", id).Msg("integration skipped")
			continue
		}
		loaded = append(loaded, itg)
		log.Info().
			Str("integration", id).
			Str("dialect", string(itg.Provider.Dialect())).
			Str("providerKey", itg.Provider.Key()).
			Msg("integration loaded")
	}
	if len(loaded) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoIntegrations, strings.Join(failures, "; "))
	}
	return NewRegistry(loaded...), nil
}

func loadOne(id string) (*Integration, error) {
	itg := &Integration{
		ID:                 id,
		DefaultCountry:     policy(id, "DEFAULT_COUNTRY", defaultCountryFallback),
		ReopenResolved:     policyBool(id, "REOPEN_RESOLVED_CONVERSATION", true),
		IgnoreGroups:       policyBool(id, "IGNORE_GROUP_MESSAGES", false),
		SignAgentMessages:  policyBool(id, "SIGN_AGENT_MESSAGES", false),
		ConversationStatus: conversationStatus(id),
	}

	cwCfg, err := chatwootConfig(id)
	if err != nil {
		return nil, err
	}
	cwCfg.ReopenResolved = itg.ReopenResolved
	cwCfg.InitialStatus = itg.ConversationStatus

	provCfg, err := providerConfig(id)
	if err != nil {
		return nil, err
	}

	cw, err := chatwoot.New(cwCfg)
	if err != nil {
		return nil, err
	}
	prov, err := provider.New(provCfg)
	if err != nil {
		return nil, err
	}
	if prov.Dialect() == provider.DialectUazapi {
		cw.SetDownloadHook(prov.DownloadMedia)
	}

	itg.Chatwoot = cw
	itg.Provider = prov
	return itg, nil
}

func chatwootConfig(id string) (chatwoot.Config, error) {
	cfg := chatwoot.Config{
		BaseURL:        config.Indexed("CHATWOOT_BASE_URL", id),
		Token:          config.Indexed("CHATWOOT_API_TOKEN", id),
		AccountID:      config.Indexed("CHATWOOT_ACCOUNT_ID", id),
		InboxName:      config.Indexed("CHATWOOT_INBOX_NAME", id),
		DataDir:        policy(id, "DATA_DIR", "/app/data"),
		WebhookBaseURL: policy(id, "WEBHOOK_BASE_URL", "http://localhost:8080"),
		WebhookName:    policy(id, "WEBHOOK_NAME", "wootrico"),
	}

	var missing []string
	if cfg.BaseURL == "" {
		missing = append(missing, "CHATWOOT_BASE_URL")
	}
	if cfg.Token == "" {
		missing = append(missing, "CHATWOOT_API_TOKEN")
	}
	if cfg.AccountID == "" {
		missing = append(missing, "CHATWOOT_ACCOUNT_ID")
	}
	if cfg.InboxName == "" {
		missing = append(missing, "CHATWOOT_INBOX_NAME")
	}
	if len(missing) > 0 {
		return chatwoot.Config{}, fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}

	if secs := policyInt(id, "MEDIA_THROTTLE_SECONDS", 0); secs > 0 {
		cfg.MediaThrottle = time.Duration(secs) * time.Second
	}
	return cfg, nil
}

// providerConfig tries the three dialect recipes in a fixed order and
// takes the first whose required variables are all present.
func providerConfig(id string) (provider.Config, error) {
	baseURL := config.Indexed("UAZAPI_BASE_URL", id)
	token := config.Indexed("UAZAPI_TOKEN", id)
	number := config.Indexed("UAZAPI_NUMBER", id)
	if baseURL != "" && token != "" && number != "" {
		return provider.Config{
			Dialect: provider.DialectUazapi,
			BaseURL: baseURL,
			Token:   token,
			Number:  number,
		}, nil
	}

	instance := config.Indexed("ZAPI_INSTANCE", id)
	token = config.Indexed("ZAPI_TOKEN", id)
	clientToken := config.Indexed("ZAPI_CLIENT_TOKEN", id)
	if instance != "" && token != "" && clientToken != "" {
		return provider.Config{
			Dialect:     provider.DialectZapi,
			BaseURL:     config.Indexed("ZAPI_BASE_URL", id),
			Instance:    instance,
			Token:       token,
			ClientToken: clientToken,
		}, nil
	}

	baseURL = config.Indexed("WUZAPI_BASE_URL", id)
	token = config.Indexed("WUZAPI_TOKEN", id)
	if baseURL != "" && token != "" {
		return provider.Config{
			Dialect: provider.DialectWuzapi,
			BaseURL: baseURL,
			Token:   token,
		}, nil
	}

	return provider.Config{}, errors.New("no provider credentials recognized (need UAZAPI_*, ZAPI_* or WUZAPI_*)")
}

// policy reads an indexed policy variable, falling back to the
// unsuffixed variable so fleet-wide settings need not be repeated per
// tenant. Credentials never fall back this way.
func policy(id, base, def string) string {
	if v := config.Indexed(base, id); v != "" {
		return v
	}
	return config.Get(base, def)
}

func policyBool(id, base string, def bool) bool {
	if config.Indexed(base, id) != "" {
		return config.IndexedBool(base, id, def)
	}
	return config.Bool(base, def)
}

func policyInt(id, base string, def int) int {
	if config.Indexed(base, id) != "" {
		return config.IndexedInt(base, id, def)
	}
	return config.Int(base, def)
}

func conversationStatus(id string) string {
	s := strings.ToLower(policy(id, "CONVERSATION_STATUS", chatwoot.StatusOpen))
	switch s {
	case chatwoot.StatusOpen, chatwoot.StatusResolved, chatwoot.StatusPending:
		return s
	default:
		log.Warn().Str("integration", id).Str("value", s).Msg("unknown conversation status, using open")
		return chatwoot.StatusOpen
	}
}

// All returns every loaded integration in discovery order.
func (r *Registry) All() []*Integration {
	return r.list
}

// Len reports how many integrations loaded.
func (r *Registry) Len() int {
	return len(r.list)
}

// ByID returns the integration with the given tenant id, or nil.
func (r *Registry) ByID(id string) *Integration {
	return r.byID[id]
}

// First returns the first loaded integration, or nil when none exist.
// It is the documented last-resort route for deletion events whose
// mapping predates a restart.
func (r *Registry) First() *Integration {
	if len(r.list) == 0 {
		return nil
	}
	return r.list[0]
}

// Single returns the only integration when exactly one is loaded.
func (r *Registry) Single() (*Integration, bool) {
	if len(r.list) == 1 {
		return r.list[0], true
	}
	return nil, false
}

// ByInboxID routes a helpdesk callback by the inbox it fired from. The
// lookup only matches tenants whose inbox id is already resolved.
func (r *Registry) ByInboxID(inboxID int) *Integration {
	if inboxID == 0 {
		return nil
	}
	for _, itg := range r.list {
		if itg.Chatwoot.InboxID() == inboxID {
			return itg
		}
	}
	return nil
}

// ByDialect returns every integration speaking the given dialect.
func (r *Registry) ByDialect(d provider.Dialect) []*Integration {
	var out []*Integration
	for _, itg := range r.list {
		if itg.Provider.Dialect() == d {
			out = append(out, itg)
		}
	}
	return out
}

// ByProviderKey routes an inbound provider event by account identity:
// UAZAPI keys are the connected number's digits, Z-API keys the
// instance id, Wuzapi keys the base URL compared case-insensitively.
func (r *Registry) ByProviderKey(d provider.Dialect, key string) *Integration {
	switch d {
	case provider.DialectUazapi:
		key = phone.Digits(key)
	case provider.DialectWuzapi:
		key = strings.ToLower(strings.TrimRight(strings.TrimSpace(key), "/"))
	}
	if key == "" {
		return nil
	}
	for _, itg := range r.list {
		if itg.Provider.Dialect() == d && itg.Provider.Key() == key {
			return itg
		}
	}
	return nil
}
