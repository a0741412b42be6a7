// Package amitest provides a scripted manager endpoint for tests: wire
// helpers for reading requests and writing blocks, plus a canned fixture
// covering the standard query catalog.
package amitest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

const DefaultGreeting = "Asterisk Call Manager/5.0.3"

// Request is one parsed inbound action block.
type Request struct {
	Action string
	ID     string
	Fields map[string]string
}

// ReadRequest parses one CRLF-delimited request block.
func ReadRequest(r *bufio.Reader) (Request, error) {
	req := Request{Fields: map[string]string{}}
	seen := 0
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return Request{}, err
		}
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			if seen == 0 {
				continue
			}
			return req, nil
		}
		seen++
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return Request{}, fmt.Errorf("amitest: malformed request line %q", line)
		}
		value = strings.TrimPrefix(value, " ")
		switch strings.ToLower(name) {
		case "action":
			req.Action = value
		case "actionid":
			req.ID = value
		default:
			req.Fields[strings.ToLower(name)] = value
		}
	}
}

// WriteGreeting writes the banner line a manager service sends on accept.
func WriteGreeting(w io.Writer, greeting string) error {
	_, err := fmt.Fprintf(w, "%s\r\n", greeting)
	return err
}

// WriteBlock writes one block from alternating name, value pairs.
func WriteBlock(w io.Writer, pairs ...string) error {
	if len(pairs)%2 != 0 {
		return errors.New("amitest: odd field pairs")
	}
	var b strings.Builder
	for i := 0; i < len(pairs); i += 2 {
		fmt.Fprintf(&b, "%s: %s\r\n", pairs[i], pairs[i+1])
	}
	b.WriteString("\r\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteRaw writes bytes verbatim for tests that need exact wire shapes.
func WriteRaw(w io.Writer, raw string) error {
	_, err := io.WriteString(w, raw)
	return err
}

// Fixture is a canned manager endpoint: greeting, credential check, and
// per-action responses. A nil Respond falls back to Catalog.
type Fixture struct {
	Username string
	Secret   string
	Greeting string
	Respond  func(w io.Writer, req Request) error
}

// Serve accepts one connection and answers requests until the peer logs
// off or disconnects. Returns nil on a clean scripted run so tests can
// assert on the error channel.
func Serve(ln net.Listener, fx Fixture) error {
	defer ln.Close()

	conn, err := ln.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	}
	defer conn.Close()

	greeting := fx.Greeting
	if greeting == "" {
		greeting = DefaultGreeting
	}
	if err := WriteGreeting(conn, greeting); err != nil {
		return err
	}

	r := bufio.NewReader(conn)
	authed := false
	for {
		req, err := ReadRequest(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		switch strings.ToLower(req.Action) {
		case "login":
			if req.Fields["username"] == fx.Username && req.Fields["secret"] == fx.Secret {
				authed = true
				if err := WriteBlock(conn, "Response", "Success", "ActionID", req.ID, "Message", "Authentication accepted"); err != nil {
					return err
				}
				continue
			}
			if err := WriteBlock(conn, "Response", "Error", "ActionID", req.ID, "Message", "Authentication failed"); err != nil {
				return err
			}
		case "logoff":
			_ = WriteBlock(conn, "Response", "Goodbye", "ActionID", req.ID, "Message", "Thanks for all the fish.")
			return nil
		default:
			if !authed {
				if err := WriteBlock(conn, "Response", "Error", "ActionID", req.ID, "Message", "Permission denied"); err != nil {
					return err
				}
				continue
			}
			respond := fx.Respond
			if respond == nil {
				respond = Catalog
			}
			if err := respond(conn, req); err != nil {
				return err
			}
		}
	}
}

// Catalog answers the standard read-action set with realistic canned
// data: two endpoints, one legacy peer, one registration per tech, one
// active call, one queue with a member and a waiting caller.
func Catalog(w io.Writer, req Request) error {
	id := req.ID
	switch strings.ToLower(req.Action) {
	case "ping":
		return WriteBlock(w,
			"Response", "Success", "ActionID", id,
			"Ping", "Pong",
			"Timestamp", "1755801600.000000",
		)
	case "coresettings":
		return WriteBlock(w,
			"Response", "Success", "ActionID", id,
			"AMIversion", "5.0.3",
			"AsteriskVersion", "18.26.4",
			"SystemName", "pbx01",
			"CoreMaxCalls", "120",
			"CoreMaxLoadAvg", "0.000000",
			"CoreRunUser", "asterisk",
			"CoreRunGroup", "asterisk",
			"CoreRealTimeEnabled", "No",
			"CoreCDRenabled", "Yes",
			"CoreHTTPenabled", "No",
		)
	case "corestatus":
		return WriteBlock(w,
			"Response", "Success", "ActionID", id,
			"CoreStartupDate", "2026-08-19",
			"CoreStartupTime", "03:12:44",
			"CoreReloadDate", "2026-08-20",
			"CoreReloadTime", "11:02:17",
			"CoreCurrentCalls", "1",
		)
	case "pjsipshowendpoints":
		if err := WriteBlock(w,
			"Response", "Success", "ActionID", id,
			"EventList", "start",
			"Message", "A listing of Endpoints follows, presented as EndpointList events",
		); err != nil {
			return err
		}
		if err := WriteBlock(w,
			"Event", "EndpointList", "ActionID", id,
			"ObjectType", "endpoint",
			"ObjectName", "6001",
			"Transport", "transport-udp",
			"Aor", "6001",
			"Auths", "6001-auth",
			"Contacts", "6001/sip:6001@10.20.0.31:5060",
			"DeviceState", "Not in use",
			"ActiveChannels", "1",
		); err != nil {
			return err
		}
		if err := WriteBlock(w,
			"Event", "EndpointList", "ActionID", id,
			"ObjectType", "endpoint",
			"ObjectName", "6002",
			"Transport", "transport-udp",
			"Aor", "6002",
			"Auths", "6002-auth",
			"Contacts", "",
			"DeviceState", "Unavailable",
			"ActiveChannels", "0",
		); err != nil {
			return err
		}
		return WriteBlock(w,
			"Event", "EndpointListComplete", "ActionID", id,
			"EventList", "Complete",
			"ListItems", "2",
		)
	case "sippeers":
		if err := WriteBlock(w,
			"Response", "Success", "ActionID", id,
			"EventList", "start",
			"Message", "Peer status list will follow",
		); err != nil {
			return err
		}
		if err := WriteBlock(w,
			"Event", "PeerEntry", "ActionID", id,
			"Channeltype", "SIP",
			"ObjectName", "7001",
			"ChanObjectType", "peer",
			"IPaddress", "10.20.0.41",
			"IPport", "5060",
			"Dynamic", "yes",
			"Status", "OK (7 ms)",
		); err != nil {
			return err
		}
		return WriteBlock(w,
			"Event", "PeerlistComplete", "ActionID", id,
			"EventList", "Complete",
			"ListItems", "1",
		)
	case "pjsipshowregistrationsoutbound":
		if err := WriteBlock(w,
			"Response", "Success", "ActionID", id,
			"EventList", "start",
			"Message", "Following are Events for each Outbound registration",
		); err != nil {
			return err
		}
		if err := WriteBlock(w,
			"Event", "OutboundRegistrationDetail", "ActionID", id,
			"ObjectType", "registration",
			"ObjectName", "trunk-main",
			"ClientUri", "sip:88551234@sip.trunkprovider.net",
			"ServerUri", "sip:sip.trunkprovider.net",
			"Status", "Registered",
			"NextReg", "42",
		); err != nil {
			return err
		}
		return WriteBlock(w,
			"Event", "OutboundRegistrationDetailComplete", "ActionID", id,
			"EventList", "Complete",
			"ListItems", "1",
		)
	case "sipshowregistry":
		if err := WriteBlock(w,
			"Response", "Success", "ActionID", id,
			"EventList", "start",
			"Message", "Registrations will follow",
		); err != nil {
			return err
		}
		if err := WriteBlock(w,
			"Event", "RegistryEntry", "ActionID", id,
			"Host", "sip.legacytrunk.net",
			"Port", "5060",
			"Username", "77001122",
			"Domain", "sip.legacytrunk.net",
			"Refresh", "105",
			"State", "Registered",
			"RegistrationTime", "1755796412",
		); err != nil {
			return err
		}
		return WriteBlock(w,
			"Event", "RegistrationsComplete", "ActionID", id,
			"EventList", "Complete",
			"ListItems", "1",
		)
	case "coreshowchannels":
		if err := WriteBlock(w,
			"Response", "Success", "ActionID", id,
			"EventList", "start",
			"Message", "Channels will follow",
		); err != nil {
			return err
		}
		if err := WriteBlock(w,
			"Event", "CoreShowChannel", "ActionID", id,
			"Channel", "PJSIP/6001-00000a1f",
			"ChannelState", "6",
			"ChannelStateDesc", "Up",
			"CallerIDNum", "6001",
			"CallerIDName", "Front Desk",
			"ConnectedLineNum", "15551230199",
			"ConnectedLineName", "<unknown>",
			"Context", "from-internal",
			"Application", "Dial",
			"Duration", "00:03:41",
		); err != nil {
			return err
		}
		return WriteBlock(w,
			"Event", "CoreShowChannelsComplete", "ActionID", id,
			"EventList", "Complete",
			"ListItems", "1",
		)
	case "queuestatus":
		if err := WriteBlock(w,
			"Response", "Success", "ActionID", id,
			"EventList", "start",
			"Message", "Queue status will follow",
		); err != nil {
			return err
		}
		if err := WriteBlock(w,
			"Event", "QueueParams", "ActionID", id,
			"Queue", "support",
			"Strategy", "ringall",
			"Calls", "1",
			"Holdtime", "23",
			"TalkTime", "186",
			"Completed", "42",
			"Abandoned", "3",
			"ServiceLevel", "60",
		); err != nil {
			return err
		}
		if err := WriteBlock(w,
			"Event", "QueueMember", "ActionID", id,
			"Queue", "support",
			"Name", "Front Desk",
			"Location", "PJSIP/6001",
			"Membership", "static",
			"CallsTaken", "18",
			"LastCall", "1755800912",
			"Status", "1",
			"Paused", "0",
		); err != nil {
			return err
		}
		if err := WriteBlock(w,
			"Event", "QueueEntry", "ActionID", id,
			"Queue", "support",
			"Position", "1",
			"Channel", "PJSIP/7001-00000a20",
			"CallerIDNum", "15551230177",
			"CallerIDName", "Caller",
			"Wait", "19",
		); err != nil {
			return err
		}
		return WriteBlock(w,
			"Event", "QueueStatusComplete", "ActionID", id,
			"EventList", "Complete",
			"ListItems", "1",
		)
	case "command":
		return WriteBlock(w,
			"Response", "Success", "ActionID", id,
			"Message", "Command output follows",
			"Output", "Asterisk 18.26.4 built by asterisk @ pbx01",
			"Output", "System uptime: 2 days, 4 hours, 11 minutes",
		)
	default:
		return WriteBlock(w,
			"Response", "Error", "ActionID", id,
			"Message", "Invalid/unknown command",
		)
	}
}
