package ami

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var ErrMarkerInvalid = errors.New("ami: invalid list marker")

// eventListComplete is the family-independent completion signal carried
// in the EventList field of terminal blocks on newer servers.
const eventListComplete = "Complete"

// Markers maps action families to the event name that terminates their
// list response. Different list actions use different terminal events, so
// the table is per-family rather than one protocol-wide sentinel. Actions
// without an entry run as Single; Register is the escape hatch for
// families this table does not know yet. Safe for concurrent use.
type Markers struct {
	mu       sync.RWMutex
	byAction map[string]string
}

func NewMarkers() *Markers {
	return &Markers{byAction: map[string]string{}}
}

// DefaultMarkers returns a fresh table covering the list families this
// module queries plus the common enumeration actions. Each call returns
// an independent table, so runtime registration stays scoped to the
// client holding it.
func DefaultMarkers() *Markers {
	m := NewMarkers()
	for action, event := range map[string]string{
		"Agents":                         "AgentsComplete",
		"CoreShowChannels":               "CoreShowChannelsComplete",
		"DAHDIShowChannels":              "DAHDIShowChannelsComplete",
		"ExtensionStateList":             "ExtensionStateListComplete",
		"IAXpeers":                       "PeerlistComplete",
		"ParkedCalls":                    "ParkedCallsComplete",
		"PJSIPShowEndpoints":             "EndpointListComplete",
		"PJSIPShowRegistrationsOutbound": "OutboundRegistrationDetailComplete",
		"QueueStatus":                    "QueueStatusComplete",
		"QueueSummary":                   "QueueSummaryComplete",
		"SIPpeers":                       "PeerlistComplete",
		"SIPshowregistry":                "RegistrationsComplete",
		"Status":                         "StatusComplete",
	} {
		_ = m.Register(action, event)
	}
	return m
}

// Register binds an action family to its terminal event name. A later
// registration for the same family wins; server versions disagree on
// marker names often enough that overriding must stay possible.
func (m *Markers) Register(action, terminalEvent string) error {
	action = strings.TrimSpace(action)
	terminalEvent = strings.TrimSpace(terminalEvent)
	if action == "" {
		return fmt.Errorf("%w: empty action", ErrMarkerInvalid)
	}
	if terminalEvent == "" {
		return fmt.Errorf("%w: empty terminal event for %q", ErrMarkerInvalid, action)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byAction[strings.ToLower(action)] = terminalEvent
	return nil
}

// Terminal resolves the terminal event for an action family.
func (m *Markers) Terminal(action string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	event, ok := m.byAction[strings.ToLower(strings.TrimSpace(action))]
	return event, ok
}

// Actions lists the registered families in sorted order.
func (m *Markers) Actions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.byAction))
	for action := range m.byAction {
		out = append(out, action)
	}
	sort.Strings(out)
	return out
}

// isTerminal reports whether blk completes a list whose terminal event is
// terminalEvent. The EventList field is accepted as a completion signal
// for any family.
func isTerminal(blk Block, terminalEvent string) bool {
	if terminalEvent != "" && strings.EqualFold(blk.Event(), terminalEvent) {
		return true
	}
	return strings.EqualFold(blk.Get("EventList"), eventListComplete)
}
