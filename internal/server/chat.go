package server

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/lalith-99/shopnet/internal/chat"
	"github.com/lalith-99/shopnet/internal/domain"
)

// ChatServer accepts chat-protocol connections. Each connection runs a
// reader goroutine (commands) and a writer goroutine (broker pushes);
// both write through the same lineConn so lines never interleave.
type ChatServer struct {
	broker *chat.Broker
	logger *zap.Logger

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func NewChatServer(broker *chat.Broker, logger *zap.Logger) *ChatServer {
	return &ChatServer{
		broker: broker,
		logger: logger,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections until the listener is closed.
func (s *ChatServer) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("chat accept: %w", err)
		}
		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			s.handleConn(conn)
		}()
	}
}

// Shutdown closes the listener and every live connection, then waits
// for the handlers to run their broker teardown.
func (s *ChatServer) Shutdown() {
	s.mu.Lock()
	if s.ln != nil {
		s.ln.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *ChatServer) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *ChatServer) handleConn(conn net.Conn) {
	lc := newLineConn(conn)
	defer conn.Close()

	sc := bufio.NewScanner(conn)

	// HELLO <user> <role> <branch> must come before anything else.
	client, err := s.handshake(lc, sc)
	if err != nil || client == nil {
		return
	}
	// Disconnect is idempotent; QUIT and teardown both land here.
	defer s.broker.Disconnect(client)

	// Writer: drain broker pushes onto the socket. A closed events
	// channel (disconnect or slow consumer) also closes the socket,
	// which unblocks the reader below.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range client.Events() {
			if err := lc.writeLine(formatEvent(ev)); err != nil {
				conn.Close()
				return
			}
		}
		conn.Close()
	}()

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if stop := s.dispatch(client, lc, line); stop {
			break
		}
	}
	s.broker.Disconnect(client)
	<-done
}

func (s *ChatServer) handshake(lc *lineConn, sc *bufio.Scanner) (*chat.Client, error) {
	if !sc.Scan() {
		return nil, sc.Err()
	}
	t := strings.Fields(strings.TrimSpace(sc.Text()))
	if len(t) < 4 || strings.ToUpper(t[0]) != "HELLO" {
		return nil, lc.writeLine("ERR BAD_ARGS")
	}
	role, err := domain.ParseEmployeeRole(strings.ToUpper(t[2]))
	if err != nil {
		return nil, lc.writeLine("ERR " + reasonToken(err))
	}
	branch, err := domain.ParseBranch(strings.ToUpper(t[3]))
	if err != nil {
		return nil, lc.writeLine("ERR " + reasonToken(err))
	}

	identity := domain.Identity{
		Username:     t[1],
		Role:         domain.RoleEmployee,
		Branch:       branch,
		EmployeeRole: role,
	}
	client := s.broker.Hello(identity)
	if err := lc.writeLine("OK HELLO"); err != nil {
		s.broker.Disconnect(client)
		return nil, err
	}
	return client, nil
}

// dispatch handles one chat command. Returns true when the connection
// should close (QUIT).
func (s *ChatServer) dispatch(client *chat.Client, lc *lineConn, line string) bool {
	t := strings.Fields(line)
	var err error

	switch strings.ToUpper(t[0]) {
	case "REQUEST_BRANCH":
		if len(t) < 2 {
			err = lc.writeLine("ERR BAD_ARGS")
			break
		}
		branch, perr := domain.ParseBranch(strings.ToUpper(t[1]))
		if perr != nil {
			err = lc.writeLine("ERR BAD_ARGS")
			break
		}
		id, rerr := s.broker.RequestBranch(client, branch)
		if rerr != nil {
			err = lc.writeLine("ERR " + reasonToken(rerr))
			break
		}
		err = lc.writeLine("OK REQUEST " + id)

	case "ACCEPT":
		if len(t) < 2 {
			err = lc.writeLine("ERR BAD_ARGS")
			break
		}
		if aerr := s.broker.Accept(client, t[1]); aerr != nil {
			err = lc.writeLine("ERR " + reasonToken(aerr))
		}
		// The PAIRED push is the positive acknowledgement.

	case "MSG":
		text := strings.TrimSpace(strings.TrimPrefix(line, t[0]))
		if merr := s.broker.Message(client, text); merr != nil {
			err = lc.writeLine("ERR " + reasonToken(merr))
		}

	case "END":
		if eerr := s.broker.End(client); eerr != nil {
			err = lc.writeLine("ERR " + reasonToken(eerr))
		}

	case "QUIT":
		return true

	case "LIST_CONVS":
		convs, lerr := s.broker.ListConversations(client)
		if lerr != nil {
			err = lc.writeLine("ERR " + reasonToken(lerr))
			break
		}
		for _, cv := range convs {
			if err = lc.writeLine(fmt.Sprintf("CONV %s %s %s",
				cv.ID, cv.Participants[0], cv.Participants[1])); err != nil {
				break
			}
		}
		if err == nil {
			err = lc.writeLine("OK END")
		}

	case "JOIN":
		if len(t) < 2 {
			err = lc.writeLine("ERR BAD_ARGS")
			break
		}
		info, jerr := s.broker.Join(client, t[1])
		if jerr != nil {
			err = lc.writeLine("ERR " + reasonToken(jerr))
			break
		}
		err = lc.writeLine(fmt.Sprintf("PAIRED %s %s %s",
			info.ID, info.Participants[0], info.Participants[1]))

	default:
		err = lc.writeLine("ERR UNKNOWN_CMD")
	}

	if err != nil {
		s.logger.Debug("chat connection write failed", zap.Error(err))
		return true
	}
	return false
}

// formatEvent renders a broker push as a protocol line.
func formatEvent(ev chat.Event) string {
	switch ev.Kind {
	case chat.EventIncomingRequest:
		return fmt.Sprintf("INCOMING_REQUEST %s %s %s", ev.RequestID, ev.From, ev.FromBranch)
	case chat.EventRequestTaken:
		return "REQUEST_TAKEN " + ev.RequestID
	case chat.EventRequestCancelled:
		return "REQUEST_CANCELLED " + ev.RequestID
	case chat.EventPaired:
		return fmt.Sprintf("PAIRED %s %s", ev.ConversationID, strings.Join(ev.Peers, " "))
	case chat.EventMessage:
		return fmt.Sprintf("MSG %s %s", ev.From, ev.Text)
	case chat.EventLeft:
		return "INFO LEFT_CONVERSATION"
	case chat.EventEnded:
		return "INFO CONVERSATION_ENDED"
	}
	return "INFO " + string(ev.Kind)
}
