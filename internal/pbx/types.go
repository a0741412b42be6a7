package pbx

import "time"

// Snapshot is one poll cycle's view of a target. Sections that failed to
// collect stay zero-valued and leave their classification in Errors, so a
// single failed query never voids the rest of the cycle.
type Snapshot struct {
	Target      string    `json:"target"`
	CollectedAt time.Time `json:"collected_at"`
	Banner      string    `json:"banner,omitempty"`

	System        *SystemInfo    `json:"system,omitempty"`
	Endpoints     []Endpoint     `json:"endpoints"`
	Registrations []Registration `json:"registrations"`
	Channels      []Channel      `json:"channels"`
	Queues        []Queue        `json:"queues"`

	// Errors maps section name to failure classification and detail.
	Errors map[string]string `json:"errors,omitempty"`
}

// SystemInfo normalizes the CoreSettings and CoreStatus responses.
type SystemInfo struct {
	Version      string `json:"version"`
	SystemName   string `json:"system_name"`
	AMIVersion   string `json:"ami_version"`
	MaxCalls     int    `json:"max_calls"`
	StartupTime  string `json:"startup_time"`
	ReloadTime   string `json:"reload_time"`
	CurrentCalls int    `json:"current_calls"`
}

// Endpoint is one device from PJSIPShowEndpoints or SIPpeers, merged into
// one shape across both techs.
type Endpoint struct {
	Tech           string `json:"tech"`
	Name           string `json:"name"`
	State          string `json:"state"`
	Address        string `json:"address,omitempty"`
	ActiveChannels int    `json:"active_channels"`
	Online         bool   `json:"online"`
}

// Registration is one outbound trunk registration.
type Registration struct {
	Tech       string `json:"tech"`
	Name       string `json:"name"`
	Server     string `json:"server"`
	State      string `json:"state"`
	Registered bool   `json:"registered"`
}

// Channel is one active call leg from CoreShowChannels.
type Channel struct {
	Name            string `json:"name"`
	State           string `json:"state"`
	CallerIDNum     string `json:"caller_id_num"`
	CallerIDName    string `json:"caller_id_name"`
	ConnectedLine   string `json:"connected_line"`
	Context         string `json:"context"`
	Application     string `json:"application"`
	DurationSeconds int    `json:"duration_seconds"`
}

// Queue groups the three QueueStatus event families under one queue name.
type Queue struct {
	Name         string        `json:"name"`
	Strategy     string        `json:"strategy"`
	Calls        int           `json:"calls"`
	HoldTime     int           `json:"hold_time"`
	Completed    int           `json:"completed"`
	Abandoned    int           `json:"abandoned"`
	ServiceLevel int           `json:"service_level"`
	Members      []QueueMember `json:"members"`
	Waiting      []QueueEntry  `json:"waiting"`
}

// QueueMember is one agent line from a QueueMember event.
type QueueMember struct {
	Name       string `json:"name"`
	Location   string `json:"location"`
	Membership string `json:"membership"`
	CallsTaken int    `json:"calls_taken"`
	Status     int    `json:"status"`
	Paused     bool   `json:"paused"`
}

// QueueEntry is one waiting caller from a QueueEntry event.
type QueueEntry struct {
	Position    int    `json:"position"`
	Channel     string `json:"channel"`
	CallerIDNum string `json:"caller_id_num"`
	WaitSeconds int    `json:"wait_seconds"`
}
