package pbx

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/pbxmon/internal/ami"
	"github.com/danmuck/pbxmon/internal/observability"
)

// Session is the slice of the ami client this package needs. One
// authenticated client per target satisfies it.
type Session interface {
	Execute(ctx context.Context, req ami.Request) (ami.Result, error)
	Banner() string
}

// Collect runs the full read-action catalog over one authenticated
// session and assembles a snapshot. Sections fail independently: a
// rejected or failed query records its classification in Snapshot.Errors
// and leaves the other sections intact.
func Collect(ctx context.Context, sess Session, target string) Snapshot {
	q := querier{sess: sess, target: target}
	snap := Snapshot{
		Target:      target,
		CollectedAt: time.Now().UTC(),
		Banner:      sess.Banner(),
		Errors:      map[string]string{},
	}

	if info, err := q.systemInfo(ctx); err != nil {
		snap.fail("system", err)
	} else {
		snap.System = info
	}
	if endpoints, err := q.endpoints(ctx); err != nil {
		snap.fail("endpoints", err)
	} else {
		snap.Endpoints = endpoints
	}
	if regs, err := q.registrations(ctx); err != nil {
		snap.fail("registrations", err)
	} else {
		snap.Registrations = regs
	}
	if channels, err := q.channels(ctx); err != nil {
		snap.fail("channels", err)
	} else {
		snap.Channels = channels
	}
	if queues, err := q.queues(ctx); err != nil {
		snap.fail("queues", err)
	} else {
		snap.Queues = queues
	}

	if len(snap.Errors) == 0 {
		snap.Errors = nil
	}
	return snap
}

// Ping probes session liveness with the cheapest single action.
func Ping(ctx context.Context, sess Session, target string) error {
	q := querier{sess: sess, target: target}
	res, err := q.run(ctx, ami.Request{Action: "Ping", Kind: ami.KindSingle})
	if err != nil {
		return err
	}
	if res.Rejected() {
		return fmt.Errorf("pbx: ping rejected: %s", res.Message())
	}
	return nil
}

// Command runs one CLI passthrough read and returns its normalized
// output text.
func Command(ctx context.Context, sess Session, target, command string) (string, error) {
	q := querier{sess: sess, target: target}
	res, err := q.run(ctx, ami.Request{
		Action: "Command",
		Fields: []ami.Field{{Name: "Command", Value: command}},
		Kind:   ami.KindSingle,
	})
	if err != nil {
		return "", err
	}
	if res.Rejected() {
		return "", fmt.Errorf("pbx: command rejected: %s", res.Message())
	}
	return CommandOutput(res), nil
}

func (s *Snapshot) fail(section string, err error) {
	class := ami.Classify(err)
	if isRejection(err) {
		class = ami.ClassRejected
	}
	s.Errors[section] = fmt.Sprintf("%s: %v", class, err)
	log.Warn().
		Str("target", s.Target).
		Str("section", section).
		Str("class", string(class)).
		Err(err).
		Msg("pbx_section_failed")
}

// querier wraps the session with per-action metrics.
type querier struct {
	sess   Session
	target string
}

func (q querier) run(ctx context.Context, req ami.Request) (ami.Result, error) {
	start := time.Now()
	res, err := q.sess.Execute(ctx, req)
	outcome := string(ami.Classify(err))
	if err == nil && res.Rejected() {
		outcome = string(ami.ClassRejected)
	}
	observability.RecordAction(q.target, req.Action, outcome, time.Since(start))
	return res, err
}

// rejection carries a remote rejection upward so merged sections can
// degrade instead of failing outright.
type rejection struct {
	action  string
	message string
}

func (r rejection) Error() string {
	return fmt.Sprintf("pbx: %s rejected: %s", r.action, r.message)
}

func (q querier) list(ctx context.Context, action string) (ami.Result, error) {
	res, err := q.run(ctx, ami.Request{Action: action})
	if err != nil {
		return ami.Result{}, err
	}
	if res.Rejected() {
		return ami.Result{}, rejection{action: action, message: res.Message()}
	}
	return res, nil
}

func (q querier) single(ctx context.Context, action string) (ami.Block, error) {
	res, err := q.run(ctx, ami.Request{Action: action, Kind: ami.KindSingle})
	if err != nil {
		return ami.Block{}, err
	}
	if res.Rejected() {
		return ami.Block{}, rejection{action: action, message: res.Message()}
	}
	return res.Response, nil
}

func (q querier) systemInfo(ctx context.Context) (*SystemInfo, error) {
	settings, err := q.single(ctx, "CoreSettings")
	if err != nil {
		return nil, err
	}
	info := &SystemInfo{
		Version:    settings.Get("AsteriskVersion"),
		SystemName: settings.Get("SystemName"),
		AMIVersion: settings.Get("AMIversion"),
		MaxCalls:   atoi(settings.Get("CoreMaxCalls")),
	}
	status, err := q.single(ctx, "CoreStatus")
	if err != nil {
		return nil, err
	}
	info.StartupTime = joinDateTime(status.Get("CoreStartupDate"), status.Get("CoreStartupTime"))
	info.ReloadTime = joinDateTime(status.Get("CoreReloadDate"), status.Get("CoreReloadTime"))
	info.CurrentCalls = atoi(status.Get("CoreCurrentCalls"))
	return info, nil
}

// endpoints merges the PJSIP and legacy SIP device lists. A target that
// rejects one tech (module not loaded) degrades to the other; both
// rejected is the section's failure.
func (q querier) endpoints(ctx context.Context) ([]Endpoint, error) {
	var out []Endpoint

	pjsip, pjsipErr := q.list(ctx, "PJSIPShowEndpoints")
	if pjsipErr == nil {
		for _, blk := range pjsip.Events {
			out = append(out, Endpoint{
				Tech:           "PJSIP",
				Name:           blk.Get("ObjectName"),
				State:          blk.Get("DeviceState"),
				Address:        blk.Get("Contacts"),
				ActiveChannels: atoi(blk.Get("ActiveChannels")),
				Online:         pjsipOnline(blk.Get("DeviceState")),
			})
		}
	} else if !isRejection(pjsipErr) {
		return nil, pjsipErr
	}

	sip, sipErr := q.list(ctx, "SIPpeers")
	if sipErr == nil {
		for _, blk := range sip.Events {
			status := blk.Get("Status")
			out = append(out, Endpoint{
				Tech:           "SIP",
				Name:           blk.Get("ObjectName"),
				State:          status,
				Address:        joinHostPort(blk.Get("IPaddress"), blk.Get("IPport")),
				ActiveChannels: 0,
				Online:         strings.HasPrefix(status, "OK"),
			})
		}
	} else if !isRejection(sipErr) {
		return nil, sipErr
	}

	if pjsipErr != nil && sipErr != nil {
		return nil, fmt.Errorf("pbx: no endpoint tech available: %w; %w", pjsipErr, sipErr)
	}
	return out, nil
}

func (q querier) registrations(ctx context.Context) ([]Registration, error) {
	var out []Registration

	pjsip, pjsipErr := q.list(ctx, "PJSIPShowRegistrationsOutbound")
	if pjsipErr == nil {
		for _, blk := range pjsip.Events {
			state := blk.Get("Status")
			out = append(out, Registration{
				Tech:       "PJSIP",
				Name:       blk.Get("ObjectName"),
				Server:     blk.Get("ServerUri"),
				State:      state,
				Registered: strings.EqualFold(state, "Registered"),
			})
		}
	} else if !isRejection(pjsipErr) {
		return nil, pjsipErr
	}

	sip, sipErr := q.list(ctx, "SIPshowregistry")
	if sipErr == nil {
		for _, blk := range sip.Events {
			state := blk.Get("State")
			out = append(out, Registration{
				Tech:       "SIP",
				Name:       blk.Get("Username"),
				Server:     joinHostPort(blk.Get("Host"), blk.Get("Port")),
				State:      state,
				Registered: strings.EqualFold(state, "Registered"),
			})
		}
	} else if !isRejection(sipErr) {
		return nil, sipErr
	}

	if pjsipErr != nil && sipErr != nil {
		return nil, fmt.Errorf("pbx: no registration tech available: %w; %w", pjsipErr, sipErr)
	}
	return out, nil
}

func (q querier) channels(ctx context.Context) ([]Channel, error) {
	res, err := q.list(ctx, "CoreShowChannels")
	if err != nil {
		return nil, err
	}
	out := make([]Channel, 0, len(res.Events))
	for _, blk := range res.Events {
		out = append(out, Channel{
			Name:            blk.Get("Channel"),
			State:           blk.Get("ChannelStateDesc"),
			CallerIDNum:     blk.Get("CallerIDNum"),
			CallerIDName:    blk.Get("CallerIDName"),
			ConnectedLine:   blk.Get("ConnectedLineNum"),
			Context:         blk.Get("Context"),
			Application:     blk.Get("Application"),
			DurationSeconds: parseClock(blk.Get("Duration")),
		})
	}
	return out, nil
}

// queues groups the three QueueStatus event families by queue name,
// first-seen order preserved.
func (q querier) queues(ctx context.Context) ([]Queue, error) {
	res, err := q.list(ctx, "QueueStatus")
	if err != nil {
		return nil, err
	}

	index := map[string]int{}
	var out []Queue
	at := func(name string) *Queue {
		if i, ok := index[name]; ok {
			return &out[i]
		}
		out = append(out, Queue{Name: name})
		index[name] = len(out) - 1
		return &out[len(out)-1]
	}

	for _, blk := range res.Events {
		name := blk.Get("Queue")
		if name == "" {
			continue
		}
		switch strings.ToLower(blk.Event()) {
		case "queueparams":
			entry := at(name)
			entry.Strategy = blk.Get("Strategy")
			entry.Calls = atoi(blk.Get("Calls"))
			entry.HoldTime = atoi(blk.Get("Holdtime"))
			entry.Completed = atoi(blk.Get("Completed"))
			entry.Abandoned = atoi(blk.Get("Abandoned"))
			entry.ServiceLevel = atoi(blk.Get("ServiceLevel"))
		case "queuemember":
			entry := at(name)
			entry.Members = append(entry.Members, QueueMember{
				Name:       blk.Get("Name"),
				Location:   blk.Get("Location"),
				Membership: blk.Get("Membership"),
				CallsTaken: atoi(blk.Get("CallsTaken")),
				Status:     atoi(blk.Get("Status")),
				Paused:     blk.Get("Paused") == "1",
			})
		case "queueentry":
			entry := at(name)
			entry.Waiting = append(entry.Waiting, QueueEntry{
				Position:    atoi(blk.Get("Position")),
				Channel:     blk.Get("Channel"),
				CallerIDNum: blk.Get("CallerIDNum"),
				WaitSeconds: atoi(blk.Get("Wait")),
			})
		}
	}
	return out, nil
}

func isRejection(err error) bool {
	var r rejection
	return errors.As(err, &r)
}

func atoi(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}

// parseClock converts the HH:MM:SS duration form to seconds.
func parseClock(raw string) int {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 3 {
		return 0
	}
	return atoi(parts[0])*3600 + atoi(parts[1])*60 + atoi(parts[2])
}

func joinDateTime(date, clock string) string {
	date, clock = strings.TrimSpace(date), strings.TrimSpace(clock)
	if date == "" {
		return clock
	}
	if clock == "" {
		return date
	}
	return date + " " + clock
}

func joinHostPort(host, port string) string {
	host, port = strings.TrimSpace(host), strings.TrimSpace(port)
	if host == "" {
		return ""
	}
	if port == "" || port == "0" {
		return host
	}
	return host + ":" + port
}

func pjsipOnline(state string) bool {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "not in use", "in use", "busy", "ringing", "ring+inuse", "on hold":
		return true
	default:
		return false
	}
}
