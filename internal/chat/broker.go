// Package chat is the matchmaking broker: branch-wide broadcast
// requests, first-accept-wins pairing, conversations, and shift-manager
// observation. Delivery is push-based; the broker writes events into
// each client's outbound channel and never polls.
package chat

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalith-99/shopnet/internal/domain"
	"github.com/lalith-99/shopnet/internal/observ"
)

// EventKind discriminates the pushes a chat client can receive.
type EventKind string

const (
	EventIncomingRequest  EventKind = "INCOMING_REQUEST"
	EventRequestTaken     EventKind = "REQUEST_TAKEN"
	EventRequestCancelled EventKind = "REQUEST_CANCELLED"
	EventPaired           EventKind = "PAIRED"
	EventMessage          EventKind = "MSG"
	EventLeft             EventKind = "LEFT_CONVERSATION"
	EventEnded            EventKind = "CONVERSATION_ENDED"
)

// Event is one asynchronous push. Which fields are set depends on Kind.
type Event struct {
	Kind           EventKind
	RequestID      string
	ConversationID string
	From           string
	FromBranch     domain.Branch
	Peers          []string
	Text           string
}

type requestState int

const (
	requestPending requestState = iota
	requestTaken
	requestCancelled
)

// request is one branch broadcast. Its mutex is the single point of
// synchronization for the accept race: every PENDING->TAKEN and
// PENDING->CANCELLED transition happens under req.mu, so exactly one
// concurrent accepter can win.
type request struct {
	mu         sync.Mutex
	id         string
	requester  *Client
	fromBranch domain.Branch
	target     domain.Branch
	state      requestState
	recipients []*Client
}

type convState int

const (
	convActive convState = iota
	convEnded
)

// conversation pairs two clients, optionally watched by a manager.
type conversation struct {
	mu       sync.Mutex
	id       string
	a, b     *Client
	observer *Client
	state    convState
}

// other returns the counterpart of a participant, or nil if c is the
// observer or a stranger.
func (cv *conversation) other(c *Client) *Client {
	switch c {
	case cv.a:
		return cv.b
	case cv.b:
		return cv.a
	}
	return nil
}

func (cv *conversation) hasParticipant(c *Client) bool {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return c == cv.a || c == cv.b
}

// detachObserver clears c as cv's observer, leaving the participants
// paired. Reports whether c was the observer.
func (cv *conversation) detachObserver(c *Client) bool {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	if cv.observer != c {
		return false
	}
	cv.observer = nil
	return true
}

// Client is one registered chat connection. The server owns the socket;
// the broker owns the state and the outbound event channel.
type Client struct {
	id       string
	identity domain.Identity

	mu      sync.Mutex
	events  chan Event
	closed  bool
	pending *request
	conv    *conversation
}

// Identity returns the identity the client registered with.
func (c *Client) Identity() domain.Identity { return c.identity }

// Events is the channel the connection's writer goroutine drains.
// It is closed when the client is disconnected or falls behind.
func (c *Client) Events() <-chan Event { return c.events }

// deliver enqueues an event without blocking. A client whose buffer is
// full is considered dead: its channel is closed and the writer side
// tears the connection down.
func (c *Client) deliver(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.closed = true
		close(c.events)
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
}

// Broker routes chat traffic between registered clients.
type Broker struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	requests map[string]*request
	convs    map[string]*conversation

	logger  *zap.Logger
	metrics *observ.Metrics
}

func NewBroker(logger *zap.Logger, metrics *observ.Metrics) *Broker {
	return &Broker{
		clients:  make(map[string]*Client),
		requests: make(map[string]*request),
		convs:    make(map[string]*conversation),
		logger:   logger,
		metrics:  metrics,
	}
}

// Hello registers a connection as a chat participant. It must be called
// before any other chat operation.
func (b *Broker) Hello(identity domain.Identity) *Client {
	c := &Client{
		id:       uuid.NewString(),
		identity: identity,
		events:   make(chan Event, 32),
	}
	b.mu.Lock()
	b.clients[c.id] = c
	b.mu.Unlock()

	b.logger.Debug("chat client registered",
		zap.String("username", identity.Username),
		zap.String("branch", string(identity.Branch)),
	)
	return c
}

// RequestBranch broadcasts a chat request to every employee currently
// registered for the target branch, excluding the requester. A client
// holds at most one pending request; issuing a new one withdraws the
// previous.
func (b *Broker) RequestBranch(c *Client, target domain.Branch) (string, error) {
	c.mu.Lock()
	prev := c.pending
	c.mu.Unlock()
	if prev != nil {
		b.cancelRequest(prev)
	}

	req := &request{
		id:         uuid.NewString(),
		requester:  c,
		fromBranch: c.identity.Branch,
		target:     target,
	}

	b.mu.Lock()
	b.requests[req.id] = req
	var recipients []*Client
	for _, other := range b.clients {
		if other == c || other.identity.Branch != target {
			continue
		}
		recipients = append(recipients, other)
	}
	b.mu.Unlock()

	req.mu.Lock()
	req.recipients = recipients
	req.mu.Unlock()

	c.mu.Lock()
	c.pending = req
	c.mu.Unlock()

	ev := Event{
		Kind:       EventIncomingRequest,
		RequestID:  req.id,
		From:       c.identity.Username,
		FromBranch: c.identity.Branch,
	}
	for _, r := range recipients {
		r.deliver(ev)
	}

	b.logger.Info("chat request broadcast",
		zap.String("request_id", req.id),
		zap.String("from", c.identity.Username),
		zap.String("target", string(target)),
		zap.Int("recipients", len(recipients)),
	)
	return req.id, nil
}

// Accept attempts the PENDING->TAKEN transition. Exactly one concurrent
// caller wins; everyone else gets ErrRequestUnavailable. The winner and
// the requester become an active conversation.
func (b *Broker) Accept(c *Client, requestID string) error {
	b.mu.RLock()
	req := b.requests[requestID]
	b.mu.RUnlock()
	if req == nil {
		return domain.ErrRequestUnavailable
	}

	req.mu.Lock()
	if req.state != requestPending {
		req.mu.Unlock()
		return domain.ErrRequestUnavailable
	}
	req.state = requestTaken
	recipients := req.recipients
	requester := req.requester
	req.mu.Unlock()

	cv := &conversation{
		id: uuid.NewString(),
		a:  requester,
		b:  c,
	}
	b.mu.Lock()
	delete(b.requests, requestID)
	b.convs[cv.id] = cv
	b.mu.Unlock()

	requester.mu.Lock()
	requester.pending = nil
	requester.conv = cv
	requester.mu.Unlock()
	c.mu.Lock()
	c.conv = cv
	c.mu.Unlock()

	requester.deliver(Event{
		Kind:           EventPaired,
		ConversationID: cv.id,
		Peers:          []string{c.identity.Username},
	})
	c.deliver(Event{
		Kind:           EventPaired,
		ConversationID: cv.id,
		Peers:          []string{requester.identity.Username},
	})
	taken := Event{Kind: EventRequestTaken, RequestID: requestID}
	for _, r := range recipients {
		if r != c {
			r.deliver(taken)
		}
	}

	if b.metrics != nil {
		b.metrics.ChatPairings.Inc()
		b.metrics.ActiveChats.Inc()
	}
	b.logger.Info("chat paired",
		zap.String("conversation_id", cv.id),
		zap.String("requester", requester.identity.Username),
		zap.String("acceptor", c.identity.Username),
	)
	return nil
}

// Message delivers text to the caller's conversation. A participant
// reaches the counterpart and the observer; an observing manager
// reaches both participants.
func (b *Broker) Message(c *Client, text string) error {
	c.mu.Lock()
	cv := c.conv
	c.mu.Unlock()
	if cv == nil {
		return domain.ErrNotPaired
	}

	cv.mu.Lock()
	if cv.state != convActive {
		cv.mu.Unlock()
		return domain.ErrNotPaired
	}
	var targets []*Client
	if other := cv.other(c); other != nil {
		targets = append(targets, other)
		if cv.observer != nil && cv.observer != c {
			targets = append(targets, cv.observer)
		}
	} else if cv.observer == c {
		targets = append(targets, cv.a, cv.b)
	} else {
		cv.mu.Unlock()
		return domain.ErrNotPaired
	}
	cv.mu.Unlock()

	ev := Event{Kind: EventMessage, From: c.identity.Username, Text: text}
	for _, t := range targets {
		t.deliver(ev)
	}
	return nil
}

// End terminates the caller's conversation. A participant's exit ends
// it for everyone: the caller sees a left notice, the rest an ended
// notice. An observing manager's exit only detaches the observer; the
// participants stay paired.
func (b *Broker) End(c *Client) error {
	c.mu.Lock()
	cv := c.conv
	c.mu.Unlock()
	if cv == nil {
		return domain.ErrNotPaired
	}

	if cv.hasParticipant(c) {
		b.endConversation(cv, c)
		return nil
	}

	wasObserver := cv.detachObserver(c)
	c.mu.Lock()
	if c.conv == cv {
		c.conv = nil
	}
	c.mu.Unlock()
	if !wasObserver {
		return domain.ErrNotPaired
	}

	c.deliver(Event{Kind: EventLeft, ConversationID: cv.id})
	b.logger.Info("observer left",
		zap.String("conversation_id", cv.id),
		zap.String("observer", c.identity.Username),
	)
	return nil
}

// endConversation performs the ACTIVE->ENDED transition exactly once.
// by is the party that caused it and receives the left notice.
func (b *Broker) endConversation(cv *conversation, by *Client) {
	cv.mu.Lock()
	if cv.state != convActive {
		cv.mu.Unlock()
		return
	}
	cv.state = convEnded
	members := []*Client{cv.a, cv.b}
	if cv.observer != nil {
		members = append(members, cv.observer)
	}
	cv.mu.Unlock()

	b.mu.Lock()
	delete(b.convs, cv.id)
	b.mu.Unlock()

	for _, m := range members {
		m.mu.Lock()
		if m.conv == cv {
			m.conv = nil
		}
		m.mu.Unlock()

		if m == by {
			m.deliver(Event{Kind: EventLeft, ConversationID: cv.id})
		} else {
			m.deliver(Event{Kind: EventEnded, ConversationID: cv.id})
		}
	}

	if b.metrics != nil {
		b.metrics.ActiveChats.Dec()
	}
	b.logger.Info("conversation ended", zap.String("conversation_id", cv.id))
}

// cancelRequest performs PENDING->CANCELLED and tells every prior
// recipient to drop the request.
func (b *Broker) cancelRequest(req *request) {
	req.mu.Lock()
	if req.state != requestPending {
		req.mu.Unlock()
		return
	}
	req.state = requestCancelled
	recipients := req.recipients
	req.mu.Unlock()

	b.mu.Lock()
	delete(b.requests, req.id)
	b.mu.Unlock()

	req.requester.mu.Lock()
	if req.requester.pending == req {
		req.requester.pending = nil
	}
	req.requester.mu.Unlock()

	ev := Event{Kind: EventRequestCancelled, RequestID: req.id}
	for _, r := range recipients {
		r.deliver(ev)
	}
	b.logger.Debug("chat request cancelled", zap.String("request_id", req.id))
}

// ConversationInfo is a snapshot row for LIST_CONVS.
type ConversationInfo struct {
	ID           string
	Participants [2]string
}

// ListConversations enumerates active conversations. Managers only.
func (b *Broker) ListConversations(c *Client) ([]ConversationInfo, error) {
	if !c.identity.CanObserveChats() {
		return nil, domain.ErrNotAllowed
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]ConversationInfo, 0, len(b.convs))
	for _, cv := range b.convs {
		out = append(out, ConversationInfo{
			ID:           cv.id,
			Participants: [2]string{cv.a.identity.Username, cv.b.identity.Username},
		})
	}
	return out, nil
}

// Join attaches a manager as observer without displacing participants.
func (b *Broker) Join(c *Client, conversationID string) (ConversationInfo, error) {
	if !c.identity.CanObserveChats() {
		return ConversationInfo{}, domain.ErrNotAllowed
	}

	b.mu.RLock()
	cv := b.convs[conversationID]
	b.mu.RUnlock()
	if cv == nil {
		return ConversationInfo{}, domain.ErrConversationNotFound
	}

	// Moving between conversations detaches from the previous one so
	// stale observation stops delivering.
	c.mu.Lock()
	prev := c.conv
	c.mu.Unlock()
	if prev != nil && prev != cv {
		prev.detachObserver(c)
	}

	cv.mu.Lock()
	if cv.state != convActive {
		cv.mu.Unlock()
		return ConversationInfo{}, domain.ErrConversationNotFound
	}
	cv.observer = c
	info := ConversationInfo{
		ID:           cv.id,
		Participants: [2]string{cv.a.identity.Username, cv.b.identity.Username},
	}
	cv.mu.Unlock()

	c.mu.Lock()
	c.conv = cv
	c.mu.Unlock()

	b.logger.Info("observer joined",
		zap.String("conversation_id", conversationID),
		zap.String("observer", c.identity.Username),
	)
	return info, nil
}

// Counts returns point-in-time totals of registered clients, pending
// requests, and active conversations.
func (b *Broker) Counts() (clients, requests, conversations int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients), len(b.requests), len(b.convs)
}

// Disconnect tears down everything a connection owns: its pending
// request is cancelled, its conversation ended, and the client
// unregistered. Safe to call more than once.
func (b *Broker) Disconnect(c *Client) {
	if c == nil {
		return
	}

	c.mu.Lock()
	pending := c.pending
	cv := c.conv
	c.mu.Unlock()

	if pending != nil {
		b.cancelRequest(pending)
	}
	if cv != nil {
		if cv.hasParticipant(c) {
			b.endConversation(cv, c)
		} else {
			cv.detachObserver(c)
		}
	}

	b.mu.Lock()
	delete(b.clients, c.id)
	b.mu.Unlock()
	c.close()
}
