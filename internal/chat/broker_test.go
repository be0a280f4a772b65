package chat

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalith-99/shopnet/internal/domain"
)

func newTestBroker() *Broker {
	return NewBroker(zap.NewNop(), nil)
}

func employee(username string, branch domain.Branch) domain.Identity {
	return domain.Identity{
		Username:     username,
		Role:         domain.RoleEmployee,
		Branch:       branch,
		EmployeeRole: domain.RoleSalesperson,
	}
}

func manager(username string, branch domain.Branch) domain.Identity {
	id := employee(username, branch)
	id.EmployeeRole = domain.RoleShiftManager
	return id
}

// nextEvent pops one event from a client with a timeout, failing the
// test if nothing arrives.
func nextEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func drainUntil(t *testing.T, c *Client, kind EventKind) Event {
	t.Helper()
	for {
		ev := nextEvent(t, c)
		if ev.Kind == kind {
			return ev
		}
	}
}

func TestRequestBranchBroadcast(t *testing.T) {
	b := newTestBroker()
	requester := b.Hello(employee("alma", domain.BranchHolon))
	b1 := b.Hello(employee("noam", domain.BranchTelAviv))
	b2 := b.Hello(employee("yael", domain.BranchTelAviv))
	other := b.Hello(employee("gil", domain.BranchRishon))

	id, err := b.RequestBranch(requester, domain.BranchTelAviv)
	require.NoError(t, err)

	for _, c := range []*Client{b1, b2} {
		ev := nextEvent(t, c)
		assert.Equal(t, EventIncomingRequest, ev.Kind)
		assert.Equal(t, id, ev.RequestID)
		assert.Equal(t, "alma", ev.From)
		assert.Equal(t, domain.BranchHolon, ev.FromBranch)
	}

	// Wrong branch and the requester itself see nothing.
	select {
	case ev := <-other.Events():
		t.Fatalf("unexpected event for other branch: %+v", ev)
	case ev := <-requester.Events():
		t.Fatalf("unexpected event for requester: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAcceptPairsAndNotifies(t *testing.T) {
	b := newTestBroker()
	requester := b.Hello(employee("alma", domain.BranchHolon))
	winner := b.Hello(employee("noam", domain.BranchTelAviv))
	loser := b.Hello(employee("yael", domain.BranchTelAviv))

	id, err := b.RequestBranch(requester, domain.BranchTelAviv)
	require.NoError(t, err)
	nextEvent(t, winner) // INCOMING_REQUEST
	nextEvent(t, loser)

	require.NoError(t, b.Accept(winner, id))

	reqEv := nextEvent(t, requester)
	assert.Equal(t, EventPaired, reqEv.Kind)
	assert.Equal(t, []string{"noam"}, reqEv.Peers)

	winEv := nextEvent(t, winner)
	assert.Equal(t, EventPaired, winEv.Kind)
	assert.Equal(t, []string{"alma"}, winEv.Peers)
	assert.Equal(t, reqEv.ConversationID, winEv.ConversationID)

	loseEv := nextEvent(t, loser)
	assert.Equal(t, EventRequestTaken, loseEv.Kind)
	assert.Equal(t, id, loseEv.RequestID)
}

func TestAcceptOnResolvedRequest(t *testing.T) {
	b := newTestBroker()
	requester := b.Hello(employee("alma", domain.BranchHolon))
	first := b.Hello(employee("noam", domain.BranchTelAviv))
	second := b.Hello(employee("yael", domain.BranchTelAviv))

	id, err := b.RequestBranch(requester, domain.BranchTelAviv)
	require.NoError(t, err)

	require.NoError(t, b.Accept(first, id))
	assert.ErrorIs(t, b.Accept(second, id), domain.ErrRequestUnavailable)
	assert.ErrorIs(t, b.Accept(second, "no-such-request"), domain.ErrRequestUnavailable)
}

// Pairing exclusivity: N concurrent accepts on one request produce
// exactly one winner for every interleaving.
func TestConcurrentAcceptSingleWinner(t *testing.T) {
	b := newTestBroker()
	requester := b.Hello(employee("alma", domain.BranchHolon))

	const n = 8
	accepters := make([]*Client, n)
	for i := range accepters {
		accepters[i] = b.Hello(employee("acc" + string(rune('a'+i)), domain.BranchTelAviv))
	}

	id, err := b.RequestBranch(requester, domain.BranchTelAviv)
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, c := range accepters {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			<-start
			if err := b.Accept(c, id); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, domain.ErrRequestUnavailable)
			}
		}(c)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, EventPaired, drainUntil(t, requester, EventPaired).Kind)

	// Every loser sees the request resolved so it can drop it.
	for _, c := range accepters {
		var paired, taken bool
	drain:
		for {
			select {
			case ev := <-c.Events():
				switch ev.Kind {
				case EventPaired:
					paired = true
				case EventRequestTaken:
					taken = true
				}
			default:
				break drain
			}
		}
		assert.True(t, paired || taken, "accepter saw neither pairing nor resolution")
	}
}

func TestMessageRouting(t *testing.T) {
	b := newTestBroker()
	requester := b.Hello(employee("alma", domain.BranchHolon))
	acceptor := b.Hello(employee("noam", domain.BranchTelAviv))

	id, err := b.RequestBranch(requester, domain.BranchTelAviv)
	require.NoError(t, err)
	require.NoError(t, b.Accept(acceptor, id))
	drainUntil(t, requester, EventPaired)
	drainUntil(t, acceptor, EventPaired)

	require.NoError(t, b.Message(requester, "shalom"))
	ev := nextEvent(t, acceptor)
	assert.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, "alma", ev.From)
	assert.Equal(t, "shalom", ev.Text)

	// The sender does not echo back to itself.
	select {
	case ev := <-requester.Events():
		t.Fatalf("unexpected echo: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMessageWithoutConversation(t *testing.T) {
	b := newTestBroker()
	c := b.Hello(employee("alma", domain.BranchHolon))
	assert.ErrorIs(t, b.Message(c, "hello?"), domain.ErrNotPaired)
}

func TestEndNotifiesCounterpart(t *testing.T) {
	b := newTestBroker()
	requester := b.Hello(employee("alma", domain.BranchHolon))
	acceptor := b.Hello(employee("noam", domain.BranchTelAviv))

	id, err := b.RequestBranch(requester, domain.BranchTelAviv)
	require.NoError(t, err)
	require.NoError(t, b.Accept(acceptor, id))
	drainUntil(t, requester, EventPaired)
	drainUntil(t, acceptor, EventPaired)

	require.NoError(t, b.End(requester))
	assert.Equal(t, EventLeft, nextEvent(t, requester).Kind)
	assert.Equal(t, EventEnded, nextEvent(t, acceptor).Kind)

	// Both are idle again.
	assert.ErrorIs(t, b.Message(requester, "x"), domain.ErrNotPaired)
	assert.ErrorIs(t, b.Message(acceptor, "x"), domain.ErrNotPaired)
	assert.ErrorIs(t, b.End(acceptor), domain.ErrNotPaired)
}

func TestDisconnectCancelsPendingRequest(t *testing.T) {
	b := newTestBroker()
	requester := b.Hello(employee("alma", domain.BranchHolon))
	recipient := b.Hello(employee("noam", domain.BranchTelAviv))

	id, err := b.RequestBranch(requester, domain.BranchTelAviv)
	require.NoError(t, err)
	nextEvent(t, recipient) // INCOMING_REQUEST

	b.Disconnect(requester)

	ev := nextEvent(t, recipient)
	assert.Equal(t, EventRequestCancelled, ev.Kind)
	assert.Equal(t, id, ev.RequestID)

	// The cancelled request can no longer be accepted.
	assert.ErrorIs(t, b.Accept(recipient, id), domain.ErrRequestUnavailable)
}

func TestDisconnectEndsConversation(t *testing.T) {
	b := newTestBroker()
	requester := b.Hello(employee("alma", domain.BranchHolon))
	acceptor := b.Hello(employee("noam", domain.BranchTelAviv))

	id, err := b.RequestBranch(requester, domain.BranchTelAviv)
	require.NoError(t, err)
	require.NoError(t, b.Accept(acceptor, id))
	drainUntil(t, acceptor, EventPaired)

	b.Disconnect(requester)
	assert.Equal(t, EventEnded, nextEvent(t, acceptor).Kind)

	// A second disconnect is a no-op.
	b.Disconnect(requester)
}

func TestManagerObservation(t *testing.T) {
	b := newTestBroker()
	requester := b.Hello(employee("alma", domain.BranchHolon))
	acceptor := b.Hello(employee("noam", domain.BranchTelAviv))
	boss := b.Hello(manager("rina", domain.BranchHolon))

	id, err := b.RequestBranch(requester, domain.BranchTelAviv)
	require.NoError(t, err)
	require.NoError(t, b.Accept(acceptor, id))
	paired := drainUntil(t, requester, EventPaired)
	drainUntil(t, acceptor, EventPaired)

	convs, err := b.ListConversations(boss)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, paired.ConversationID, convs[0].ID)
	assert.ElementsMatch(t, []string{"alma", "noam"}, convs[0].Participants[:])

	info, err := b.Join(boss, convs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, convs[0].ID, info.ID)

	// Participant messages reach the counterpart and the observer.
	require.NoError(t, b.Message(requester, "hi"))
	assert.Equal(t, EventMessage, nextEvent(t, acceptor).Kind)
	assert.Equal(t, EventMessage, nextEvent(t, boss).Kind)

	// Observer messages reach both participants.
	require.NoError(t, b.Message(boss, "carry on"))
	assert.Equal(t, "carry on", nextEvent(t, requester).Text)
	assert.Equal(t, "carry on", nextEvent(t, acceptor).Text)

	// Ending drops the observer too.
	require.NoError(t, b.End(acceptor))
	assert.Equal(t, EventLeft, nextEvent(t, acceptor).Kind)
	assert.Equal(t, EventEnded, nextEvent(t, requester).Kind)
	assert.Equal(t, EventEnded, nextEvent(t, boss).Kind)
}

func TestObserverEndLeavesParticipantsPaired(t *testing.T) {
	b := newTestBroker()
	requester := b.Hello(employee("alma", domain.BranchHolon))
	acceptor := b.Hello(employee("noam", domain.BranchTelAviv))
	boss := b.Hello(manager("rina", domain.BranchHolon))

	id, err := b.RequestBranch(requester, domain.BranchTelAviv)
	require.NoError(t, err)
	require.NoError(t, b.Accept(acceptor, id))
	paired := drainUntil(t, requester, EventPaired)
	drainUntil(t, acceptor, EventPaired)

	_, err = b.Join(boss, paired.ConversationID)
	require.NoError(t, err)

	require.NoError(t, b.End(boss))
	assert.Equal(t, EventLeft, nextEvent(t, boss).Kind)

	// The participants are still paired and talking.
	require.NoError(t, b.Message(requester, "still here"))
	ev := nextEvent(t, acceptor)
	assert.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, "still here", ev.Text)

	// The former observer hears nothing further.
	select {
	case ev := <-boss.Events():
		t.Fatalf("unexpected event for detached observer: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestObserverDisconnectLeavesParticipantsPaired(t *testing.T) {
	b := newTestBroker()
	requester := b.Hello(employee("alma", domain.BranchHolon))
	acceptor := b.Hello(employee("noam", domain.BranchTelAviv))
	boss := b.Hello(manager("rina", domain.BranchHolon))

	id, err := b.RequestBranch(requester, domain.BranchTelAviv)
	require.NoError(t, err)
	require.NoError(t, b.Accept(acceptor, id))
	paired := drainUntil(t, requester, EventPaired)
	drainUntil(t, acceptor, EventPaired)

	_, err = b.Join(boss, paired.ConversationID)
	require.NoError(t, err)

	b.Disconnect(boss)

	// The observer's exit must not tear down the conversation.
	require.NoError(t, b.Message(requester, "still here"))
	ev := nextEvent(t, acceptor)
	assert.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, "still here", ev.Text)

	// No teardown notice reached the requester either.
	select {
	case ev := <-requester.Events():
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestJoinSecondConversationDropsFirst(t *testing.T) {
	b := newTestBroker()
	alma := b.Hello(employee("alma", domain.BranchHolon))
	noam := b.Hello(employee("noam", domain.BranchTelAviv))
	gil := b.Hello(employee("gil", domain.BranchRishon))
	yael := b.Hello(employee("yael", domain.BranchTelAviv))
	boss := b.Hello(manager("rina", domain.BranchHolon))

	first, err := b.RequestBranch(alma, domain.BranchTelAviv)
	require.NoError(t, err)
	require.NoError(t, b.Accept(noam, first))
	conv1 := drainUntil(t, alma, EventPaired).ConversationID
	drainUntil(t, noam, EventPaired)

	second, err := b.RequestBranch(gil, domain.BranchTelAviv)
	require.NoError(t, err)
	require.NoError(t, b.Accept(yael, second))
	conv2 := drainUntil(t, gil, EventPaired).ConversationID
	drainUntil(t, yael, EventPaired)

	_, err = b.Join(boss, conv1)
	require.NoError(t, err)
	_, err = b.Join(boss, conv2)
	require.NoError(t, err)

	// Only the second conversation reaches the observer now.
	require.NoError(t, b.Message(gil, "second"))
	assert.Equal(t, "second", drainUntil(t, boss, EventMessage).Text)

	require.NoError(t, b.Message(alma, "first"))
	assert.Equal(t, "first", drainUntil(t, noam, EventMessage).Text)
	select {
	case ev := <-boss.Events():
		t.Fatalf("unexpected event from dropped conversation: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestObservationRequiresManager(t *testing.T) {
	b := newTestBroker()
	c := b.Hello(employee("alma", domain.BranchHolon))

	_, err := b.ListConversations(c)
	assert.ErrorIs(t, err, domain.ErrNotAllowed)
	_, err = b.Join(c, "conv-1")
	assert.ErrorIs(t, err, domain.ErrNotAllowed)
}

func TestJoinMissingConversation(t *testing.T) {
	b := newTestBroker()
	boss := b.Hello(manager("rina", domain.BranchHolon))
	_, err := b.Join(boss, "no-such-conversation")
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestNewRequestWithdrawsPrevious(t *testing.T) {
	b := newTestBroker()
	requester := b.Hello(employee("alma", domain.BranchHolon))
	recipient := b.Hello(employee("noam", domain.BranchTelAviv))

	first, err := b.RequestBranch(requester, domain.BranchTelAviv)
	require.NoError(t, err)
	nextEvent(t, recipient)

	second, err := b.RequestBranch(requester, domain.BranchTelAviv)
	require.NoError(t, err)

	cancelled := drainUntil(t, recipient, EventRequestCancelled)
	assert.Equal(t, first, cancelled.RequestID)
	assert.ErrorIs(t, b.Accept(recipient, first), domain.ErrRequestUnavailable)
	assert.NoError(t, b.Accept(recipient, second))
}
