package ticket

import "sync"

// Ledger tracks echo-suppression credits for messages crossing the
// bridge. Two independent counters exist per (recipient, kind): the
// provider side counts messages the bridge expects the provider to echo
// back through the principal webhook, the chatwoot side counts messages
// the bridge itself pushed to the provider and therefore expects to see
// again as API echoes. Counters never go negative and zero entries are
// collapsed so the wipe-time snapshot stays small.
type Ledger struct {
	mu               sync.Mutex
	outgoingProvider map[string]map[string]int
	outgoingChatwoot map[string]map[string]int
}

// Stats is a point-in-time copy of both credit maps.
type Stats struct {
	OutgoingProvider map[string]map[string]int `json:"outgoing_provider"`
	OutgoingChatwoot map[string]map[string]int `json:"outgoing_chatwoot"`
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		outgoingProvider: make(map[string]map[string]int),
		outgoingChatwoot: make(map[string]map[string]int),
	}
}

// AddProvider credits one expected provider echo for (recipient, kind).
func (l *Ledger) AddProvider(recipient, kind string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	add(l.outgoingProvider, recipient, kind)
}

// AddChatwoot credits one expected API echo for (recipient, kind).
func (l *Ledger) AddChatwoot(recipient, kind string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	add(l.outgoingChatwoot, recipient, kind)
}

// ConsumeProvider spends one provider-echo credit. It returns true and
// decrements when a credit exists, false when the counter is absent.
func (l *Ledger) ConsumeProvider(recipient, kind string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return consume(l.outgoingProvider, recipient, kind)
}

// ConsumeChatwoot spends one API-echo credit with the same semantics.
func (l *Ledger) ConsumeChatwoot(recipient, kind string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return consume(l.outgoingChatwoot, recipient, kind)
}

// Stats returns a deep copy of both maps.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		OutgoingProvider: copyCredits(l.outgoingProvider),
		OutgoingChatwoot: copyCredits(l.outgoingChatwoot),
	}
}

// Reset drops every credit. The mapping cache wipe calls this so stale
// credits cannot suppress messages hours later.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outgoingProvider = make(map[string]map[string]int)
	l.outgoingChatwoot = make(map[string]map[string]int)
}

func add(m map[string]map[string]int, recipient, kind string) {
	kinds, ok := m[recipient]
	if !ok {
		kinds = make(map[string]int)
		m[recipient] = kinds
	}
	kinds[kind]++
}

func consume(m map[string]map[string]int, recipient, kind string) bool {
	kinds, ok := m[recipient]
	if !ok || kinds[kind] <= 0 {
		return false
	}
	kinds[kind]--
	if kinds[kind] == 0 {
		delete(kinds, kind)
	}
	if len(kinds) == 0 {
		delete(m, recipient)
	}
	return true
}

func copyCredits(m map[string]map[string]int) map[string]map[string]int {
	out := make(map[string]map[string]int, len(m))
	for recipient, kinds := range m {
		inner := make(map[string]int, len(kinds))
		for kind, n := range kinds {
			inner[kind] = n
		}
		out[recipient] = inner
	}
	return out
}
