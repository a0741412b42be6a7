package ami

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// discardTrackedEvents bounds the per-event-name discard breakdown; the
// total counter is unbounded.
const discardTrackedEvents = 128

var (
	ErrAddressRequired     = errors.New("ami: address required")
	ErrCredentialsRequired = errors.New("ami: username and secret required")
	ErrConnect             = errors.New("ami: connect failed")
	ErrLoginFailed         = errors.New("ami: authentication rejected")
	ErrRelogin             = errors.New("ami: login already attempted on this session")
	ErrNotAuthenticated    = errors.New("ami: session not authenticated")
	ErrClosed              = errors.New("ami: session closed")
	ErrDesynchronized      = errors.New("ami: session desynchronized, reconnect required")
	ErrTimeout             = errors.New("ami: action timed out")
)

// State is the session lifecycle position.
type State int32

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Kind selects the completion rule for one action.
type Kind int

const (
	// KindAuto resolves through the session marker table; unknown
	// families run as Single.
	KindAuto Kind = iota
	KindSingle
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindAuto:
		return "auto"
	case KindSingle:
		return "single"
	case KindList:
		return "list"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Config defines per-session transport settings. Credentials are not
// config: Login takes them explicitly.
type Config struct {
	Address string

	ConnectTimeout time.Duration
	LoginTimeout   time.Duration
	ActionTimeout  time.Duration
	WriteTimeout   time.Duration

	// Limits bounds reader memory use.
	Limits Limits

	// Markers resolves list completion per action family. Nil gets a
	// fresh DefaultMarkers table scoped to this session.
	Markers *Markers
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		LoginTimeout:   5 * time.Second,
		ActionTimeout:  10 * time.Second,
		WriteTimeout:   5 * time.Second,
		Limits:         DefaultLimits(),
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = def.LoginTimeout
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = def.ActionTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.Limits == (Limits{}) {
		c.Limits = def.Limits
	}
	if c.Markers == nil {
		c.Markers = DefaultMarkers()
	}
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return ErrAddressRequired
	}
	return nil
}

// Request is one named action with ordered caller fields.
type Request struct {
	Action string
	Fields []Field

	// Kind overrides marker-table resolution when not KindAuto.
	Kind Kind
	// TerminalEvent overrides the marker table for KindList. Empty
	// falls back to the table, then to the generic EventList signal.
	TerminalEvent string
	// Timeout overrides Config.ActionTimeout for this action.
	Timeout time.Duration
}

// Result is the caller-facing outcome of one action.
type Result struct {
	// Response is the primary response block: the whole result for
	// single actions, the acknowledgment for list actions when the
	// server sends one.
	Response Block
	// Events are list member blocks in receipt order.
	Events []Block
	// Terminal is the list completion block, kept out of Events.
	Terminal Block
}

// Rejected reports whether the server answered with an error status. A
// rejected action is data for the caller, not a transport failure.
func (r Result) Rejected() bool {
	return strings.EqualFold(r.Response.Response(), "Error")
}

// Message returns the server detail text, if any.
func (r Result) Message() string {
	return r.Response.Message()
}

// pendingAction is the bookkeeping for one in-flight request. Exactly one
// exists at a time; the resolve loop of the owning Execute call is its
// only mutator.
type pendingAction struct {
	action   string
	id       string
	kind     Kind
	terminal string
	deadline time.Time
	// echoes flips once the server echoes our ActionID; from then on
	// event blocks without an identifier are unsolicited. Until then
	// correlation is ordering-based for protocol variants that do not
	// echo identifiers.
	echoes bool
	events []Block
	ack    Block
	gotAck bool
}

// Client is one manager session over one TCP connection. It enforces at
// most one in-flight action; polling several targets means one Client per
// target, never a shared socket.
type Client struct {
	cfg     Config
	conn    net.Conn
	reader  *BlockReader
	markers *Markers
	banner  string

	nextActionID atomic.Uint64
	state        atomic.Int32
	desynced     atomic.Bool

	discardMu    sync.Mutex
	discards     *lru.Cache[string, uint64]
	discardTotal atomic.Uint64

	mu sync.Mutex
}

// Dial opens the transport and consumes the server greeting. The session
// is unauthenticated until Login succeeds.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(cfg.ConnectTimeout))
	reader := NewBlockReaderLimits(conn, cfg.Limits)
	banner, err := reader.ReadBanner()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: greeting: %v", ErrConnect, err)
	}
	if !strings.Contains(banner, bannerPrefix) {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: unexpected greeting %q", ErrConnect, bounded(banner))
	}
	_ = conn.SetReadDeadline(time.Time{})

	discards, err := lru.New[string, uint64](discardTrackedEvents)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	c := &Client{
		cfg:      cfg,
		conn:     conn,
		reader:   reader,
		markers:  cfg.Markers,
		banner:   banner,
		discards: discards,
	}
	c.nextActionID.Store(uint64(time.Now().UnixNano()))
	c.state.Store(int32(StateUnauthenticated))
	log.Debug().Str("address", cfg.Address).Str("greeting", banner).Msg("ami_connected")
	return c, nil
}

// Banner returns the greeting line received on connect.
func (c *Client) Banner() string {
	return c.banner
}

// State returns the current lifecycle position.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Markers returns the session's terminal-marker table for runtime
// registration of new list families.
func (c *Client) Markers() *Markers {
	return c.markers
}

// Login authenticates the session. A rejected login moves the session to
// Closed with no retry path on this socket; servers rate-limit repeated
// failures per connection.
func (c *Client) Login(ctx context.Context, username, secret string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch State(c.state.Load()) {
	case StateUnauthenticated:
	case StateClosed:
		return ErrClosed
	default:
		return ErrRelogin
	}
	username = strings.TrimSpace(username)
	if username == "" || secret == "" {
		return ErrCredentialsRequired
	}

	c.state.Store(int32(StateAuthenticating))
	res, err := c.perform(ctx, Request{
		Action: "Login",
		Fields: []Field{
			{Name: "Username", Value: username},
			{Name: "Secret", Value: secret},
		},
		Kind:    KindSingle,
		Timeout: c.cfg.LoginTimeout,
	})
	if err != nil {
		return err
	}
	if !strings.EqualFold(res.Response.Response(), "Success") {
		c.state.Store(int32(StateClosed))
		detail := res.Message()
		if detail == "" {
			detail = fmt.Sprintf("status %q", res.Response.Response())
		}
		log.Warn().Str("address", c.cfg.Address).Str("username", username).Msg("ami_login_rejected")
		return fmt.Errorf("%w: %s", ErrLoginFailed, detail)
	}

	c.state.Store(int32(StateAuthenticated))
	log.Debug().Str("address", c.cfg.Address).Str("username", username).Msg("ami_login_ok")
	return nil
}

// Execute runs one action to completion under the one-in-flight rule. The
// session must be authenticated; a timed-out or truncated session fails
// fast until the caller reconnects.
func (c *Client) Execute(ctx context.Context, req Request) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch State(c.state.Load()) {
	case StateAuthenticated:
	case StateClosed:
		return Result{}, ErrClosed
	default:
		return Result{}, ErrNotAuthenticated
	}
	if c.desynced.Load() {
		return Result{}, ErrDesynchronized
	}
	return c.perform(ctx, req)
}

// perform writes one action and resolves it. Callers hold c.mu.
func (c *Client) perform(ctx context.Context, req Request) (Result, error) {
	action := strings.TrimSpace(req.Action)
	if action == "" {
		return Result{}, ErrActionRequired
	}
	kind, terminal := c.resolveKind(req)
	pending := &pendingAction{
		action:   action,
		id:       c.newActionID(),
		kind:     kind,
		terminal: terminal,
		deadline: time.Now().Add(c.actionTimeout(req)),
	}

	payload, err := Action{Name: action, ID: pending.id, Fields: req.Fields}.Encode()
	if err != nil {
		return Result{}, err
	}
	if err := c.setWriteDeadline(ctx, pending.deadline); err != nil {
		return Result{}, c.failAction(pending, err)
	}
	if _, err := c.conn.Write(payload); err != nil {
		return Result{}, c.failAction(pending, err)
	}
	return c.resolve(ctx, pending)
}

// resolve loop-reads blocks until the pending action's completion rule
// fires or its deadline passes.
func (c *Client) resolve(ctx context.Context, pending *pendingAction) (Result, error) {
	for {
		if err := ctx.Err(); err != nil {
			c.desynced.Store(true)
			return Result{}, err
		}
		if err := c.setReadDeadline(ctx, pending.deadline); err != nil {
			return Result{}, c.failAction(pending, err)
		}
		blk, err := c.reader.ReadBlock()
		if err != nil {
			return Result{}, c.failAction(pending, err)
		}

		id, hasID := blk.Lookup("ActionID")
		if hasID && id != "" {
			if id != pending.id {
				c.recordDiscard(blk, "foreign_action_id")
				continue
			}
			pending.echoes = true
		}

		if pending.kind != KindList {
			if blk.Has("Response") {
				return Result{Response: blk}, nil
			}
			c.recordDiscard(blk, "unsolicited")
			continue
		}

		if isTerminal(blk, pending.terminal) {
			return Result{Response: pending.ack, Events: pending.events, Terminal: blk}, nil
		}
		if blk.Has("Response") {
			if pending.gotAck {
				c.recordDiscard(blk, "surplus_response")
				continue
			}
			pending.ack = blk
			pending.gotAck = true
			if strings.EqualFold(blk.Response(), "Error") {
				// rejection ends the list before any members
				return Result{Response: blk}, nil
			}
			continue
		}
		if blk.Event() == "" {
			c.recordDiscard(blk, "unlabeled")
			continue
		}
		if pending.echoes && (!hasID || id == "") {
			c.recordDiscard(blk, "unsolicited")
			continue
		}
		pending.events = append(pending.events, blk)
	}
}

// failAction classifies a transport-level failure of one action and
// adjusts session state. A timeout leaves the socket open but marks the
// session desynchronized, keeping the close decision with the caller. A
// framing violation marks the session untrustworthy the same way. Stream
// truncation and other transport errors also move the state machine to
// Closed.
func (c *Client) failAction(pending *pendingAction, err error) error {
	c.desynced.Store(true)
	var nerr net.Error
	switch {
	case errors.As(err, &nerr) && nerr.Timeout():
		return fmt.Errorf("%w: %s", ErrTimeout, pending.action)
	case errors.Is(err, ErrFraming), errors.Is(err, ErrLineTooLong), errors.Is(err, ErrBlockTooLarge):
		return err
	case errors.Is(err, ErrEndOfStream):
		c.state.Store(int32(StateClosed))
		return fmt.Errorf("%w: peer closed before %s completed", ErrTruncated, pending.action)
	case errors.Is(err, ErrTruncated):
		c.state.Store(int32(StateClosed))
		return err
	default:
		c.state.Store(int32(StateClosed))
		return fmt.Errorf("%w: %s: %v", ErrTruncated, pending.action, err)
	}
}

// Close releases the transport. Idempotent and safe after any failure. An
// authenticated session sends a courtesy Logoff first; its Goodbye
// response is not read and failures are ignored.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	if State(c.state.Load()) == StateAuthenticated && !c.desynced.Load() {
		c.logoff()
	}
	err := c.conn.Close()
	c.conn = nil
	c.state.Store(int32(StateClosed))
	if err != nil {
		return fmt.Errorf("ami: close: %w", err)
	}
	return nil
}

func (c *Client) logoff() {
	payload, err := Action{Name: "Logoff", ID: c.newActionID()}.Encode()
	if err != nil {
		return
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	_, _ = c.conn.Write(payload)
}

// DiscardStats reports the total discarded-block count and a bounded
// per-event-name breakdown (least recently seen names evicted).
func (c *Client) DiscardStats() (uint64, map[string]uint64) {
	c.discardMu.Lock()
	defer c.discardMu.Unlock()
	out := make(map[string]uint64, c.discards.Len())
	for _, name := range c.discards.Keys() {
		if n, ok := c.discards.Peek(name); ok {
			out[name] = n
		}
	}
	return c.discardTotal.Load(), out
}

func (c *Client) recordDiscard(blk Block, reason string) {
	name := blk.Event()
	if name == "" {
		name = "(none)"
	}
	c.discardMu.Lock()
	n, _ := c.discards.Get(name)
	c.discards.Add(name, n+1)
	c.discardMu.Unlock()
	c.discardTotal.Add(1)
	log.Debug().
		Str("address", c.cfg.Address).
		Str("event", name).
		Str("reason", reason).
		Msg("ami_block_discarded")
}

func (c *Client) resolveKind(req Request) (Kind, string) {
	switch req.Kind {
	case KindSingle:
		return KindSingle, ""
	case KindList:
		terminal := strings.TrimSpace(req.TerminalEvent)
		if terminal == "" {
			terminal, _ = c.markers.Terminal(req.Action)
		}
		return KindList, terminal
	default:
		if terminal, ok := c.markers.Terminal(req.Action); ok {
			return KindList, terminal
		}
		return KindSingle, ""
	}
}

func (c *Client) actionTimeout(req Request) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	return c.cfg.ActionTimeout
}

func (c *Client) newActionID() string {
	return fmt.Sprintf("pbxmon-%d", c.nextActionID.Add(1))
}

func (c *Client) setReadDeadline(ctx context.Context, deadline time.Time) error {
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	return c.conn.SetReadDeadline(deadline)
}

func (c *Client) setWriteDeadline(ctx context.Context, actionDeadline time.Time) error {
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if actionDeadline.Before(deadline) {
		deadline = actionDeadline
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	return c.conn.SetWriteDeadline(deadline)
}
