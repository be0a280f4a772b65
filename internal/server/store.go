// Package server hosts the two line-oriented TCP listeners: the store
// protocol (inventory, customers, sales) and the chat protocol.
package server

import (
	"bufio"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/lalith-99/shopnet/internal/domain"
	"github.com/lalith-99/shopnet/internal/employees"
	"github.com/lalith-99/shopnet/internal/inventory"
	"github.com/lalith-99/shopnet/internal/loyalty"
	"github.com/lalith-99/shopnet/internal/observ"
	"github.com/lalith-99/shopnet/internal/sales"
	"github.com/lalith-99/shopnet/internal/session"
)

// StoreServer accepts store-protocol connections and runs one handler
// goroutine per connection.
type StoreServer struct {
	sessions  *session.Registry
	directory *employees.Directory
	ledger    *inventory.Ledger
	customers *loyalty.Store
	sales     *sales.Service

	adminUser     string
	adminPassword string

	logger  *zap.Logger
	metrics *observ.Metrics

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func NewStoreServer(
	sessions *session.Registry,
	directory *employees.Directory,
	ledger *inventory.Ledger,
	customers *loyalty.Store,
	salesSvc *sales.Service,
	adminUser, adminPassword string,
	logger *zap.Logger,
	metrics *observ.Metrics,
) *StoreServer {
	return &StoreServer{
		sessions:      sessions,
		directory:     directory,
		ledger:        ledger,
		customers:     customers,
		sales:         salesSvc,
		adminUser:     adminUser,
		adminPassword: adminPassword,
		logger:        logger,
		metrics:       metrics,
		conns:         make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections until the listener is closed.
func (s *StoreServer) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("store accept: %w", err)
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
// for the handlers to finish their cleanup (session release included).
func (s *StoreServer) Shutdown() {
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

func (s *StoreServer) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// storeConn is the per-connection handler state: nothing beyond the
// identity established by LOGIN.
type storeConn struct {
	srv *StoreServer
	lc  *lineConn

	username string
	identity domain.Identity
}

func (s *StoreServer) handleConn(conn net.Conn) {
	h := &storeConn{srv: s, lc: newLineConn(conn)}
	defer conn.Close()
	// Both LOGOUT and connection teardown funnel through here; the
	// release itself is idempotent.
	defer h.releaseSession()

	if err := h.lc.writeLine("OK WELCOME"); err != nil {
		return
	}

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		t := strings.Fields(line)
		stop, err := h.dispatch(t)
		if err != nil {
			s.logger.Warn("store connection write failed", zap.Error(err))
			return
		}
		if stop {
			return
		}
	}
	if err := sc.Err(); err != nil {
		s.logger.Debug("store connection read error", zap.Error(err))
	}
}

// dispatch runs one request/response exchange. The returned bool asks
// the caller to close the connection (LOGOUT); the error is transport
// failure only, domain failures become ERR lines.
func (h *storeConn) dispatch(t []string) (bool, error) {
	switch strings.ToUpper(t[0]) {
	case "LOGIN":
		return false, h.handleLogin(t)
	case "LOGOUT":
		h.releaseSession()
		return true, h.lc.writeLine("OK BYE")
	case "LIST":
		return false, h.handleList(t)
	case "BUY":
		return false, h.handleBuy(t)
	case "SELL":
		return false, h.handleSell(t)
	case "CUSTOMER_ADD":
		return false, h.handleCustomerAdd(t)
	case "CUSTOMER_LIST":
		return false, h.handleCustomerList()
	case "ADD_PRODUCT":
		return false, h.handleAddProduct(t)
	case "REMOVE_PRODUCT":
		return false, h.handleRemoveProduct(t)
	default:
		return false, h.lc.writeLine("ERR UNKNOWN_CMD")
	}
}

func (h *storeConn) releaseSession() {
	if h.username == "" {
		return
	}
	h.srv.sessions.Release(h.username)
	if h.srv.metrics != nil {
		h.srv.metrics.ActiveSessions.Dec()
	}
	h.username = ""
	h.identity = domain.Identity{}
}

// LOGIN <username> <password> <role: admin|employee>
func (h *storeConn) handleLogin(t []string) error {
	if len(t) < 4 {
		return h.lc.writeLine("ERR BAD_ARGS")
	}
	username, password := t[1], t[2]

	var identity domain.Identity
	switch strings.ToLower(t[3]) {
	case "admin":
		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(h.srv.adminUser)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(h.srv.adminPassword)) == 1
		if !userOK || !passOK {
			return h.loginFailed("invalid_credentials", "ERR LOGIN INVALID_CREDENTIALS")
		}
		identity = domain.Identity{Username: username, Role: domain.RoleAdmin}
	case "employee":
		rec, ok := h.srv.directory.Authenticate(username, password)
		if !ok {
			return h.loginFailed("invalid_credentials", "ERR LOGIN INVALID_CREDENTIALS")
		}
		identity = domain.Identity{
			Username:     username,
			Role:         domain.RoleEmployee,
			Branch:       rec.Branch,
			EmployeeRole: rec.Role,
		}
	default:
		return h.lc.writeLine("ERR BAD_ARGS")
	}

	// A re-login on the same connection implicitly logs out first.
	h.releaseSession()

	if !h.srv.sessions.Register(username) {
		return h.loginFailed("already_connected", "ERR LOGIN ALREADY_CONNECTED")
	}
	h.username = username
	h.identity = identity
	if h.srv.metrics != nil {
		h.srv.metrics.Logins.WithLabelValues("ok").Inc()
		h.srv.metrics.ActiveSessions.Inc()
	}
	h.srv.logger.Info("login",
		zap.String("username", username),
		zap.String("role", string(identity.Role)),
	)
	return h.lc.writeLine("OK LOGIN")
}

func (h *storeConn) loginFailed(outcome, line string) error {
	if h.srv.metrics != nil {
		h.srv.metrics.Logins.WithLabelValues(outcome).Inc()
	}
	return h.lc.writeLine(line)
}

// LIST <branch> streams ITEM lines, then the OK END sentinel.
func (h *storeConn) handleList(t []string) error {
	if len(t) < 2 {
		return h.lc.writeLine("ERR BAD_ARGS")
	}
	branch, err := domain.ParseBranch(strings.ToUpper(t[1]))
	if err != nil {
		return h.lc.writeLine("ERR BAD_ARGS")
	}
	for _, p := range h.srv.ledger.ListByBranch(branch) {
		line := fmt.Sprintf("ITEM %s,%s,%s,%d,%s",
			p.SKU, encodeToken(p.Category), p.Branch, p.Quantity, p.Price)
		if err := h.lc.writeLine(line); err != nil {
			return err
		}
	}
	return h.lc.writeLine("OK END")
}

// BUY <branch> <sku> <quantity> restocks.
func (h *storeConn) handleBuy(t []string) error {
	if len(t) < 4 {
		return h.lc.writeLine("ERR BAD_ARGS")
	}
	branch, err := domain.ParseBranch(strings.ToUpper(t[1]))
	if err != nil {
		return h.lc.writeLine("ERR BAD_ARGS")
	}
	qty, err := strconv.Atoi(t[3])
	if err != nil || qty < 0 {
		return h.lc.writeLine("ERR BAD_ARGS")
	}
	if err := h.srv.ledger.UpdateQuantity(branch, t[2], qty); err != nil {
		return h.lc.writeLine("ERR " + reasonToken(err))
	}
	return h.lc.writeLine("OK BUY")
}

// SELL <branch> <sku> <quantity> <customerId>
//
// The check-and-decrement inside UpdateQuantity is the atomic step that
// prevents overselling; the receipt is priced from the customer's tier
// before the purchase is recorded, so a promotion triggered by this
// sale only affects future ones.
func (h *storeConn) handleSell(t []string) error {
	if len(t) < 5 {
		return h.lc.writeLine("ERR BAD_ARGS")
	}
	branch, err := domain.ParseBranch(strings.ToUpper(t[1]))
	if err != nil {
		return h.lc.writeLine("ERR BAD_ARGS")
	}
	sku := t[2]
	qty, err := strconv.Atoi(t[3])
	if err != nil || qty <= 0 {
		return h.lc.writeLine("ERR BAD_ARGS")
	}

	product, ok := h.srv.ledger.FindProduct(branch, sku)
	if !ok {
		return h.lc.writeLine("ERR " + reasonToken(domain.ErrSKUNotFound))
	}
	customer, ok := h.srv.customers.FindByID(t[4])
	if !ok {
		return h.lc.writeLine("ERR " + reasonToken(domain.ErrCustomerNotFound))
	}

	summary := h.srv.sales.Sell(product, qty, customer)

	if err := h.srv.ledger.UpdateQuantity(branch, sku, -qty); err != nil {
		if errors.Is(err, domain.ErrNotEnoughStock) && h.srv.metrics != nil {
			h.srv.metrics.OversellRejections.Inc()
		}
		return h.lc.writeLine("ERR " + reasonToken(err))
	}
	if err := h.srv.customers.RecordPurchase(customer.ID); err != nil {
		h.srv.logger.Warn("record purchase failed",
			zap.String("customer_id", customer.ID), zap.Error(err))
	}

	if h.srv.metrics != nil {
		h.srv.metrics.Sales.Inc()
	}
	h.srv.logger.Info("sale",
		zap.String("branch", string(branch)),
		zap.String("sku", sku),
		zap.Int("quantity", qty),
		zap.String("customer_id", customer.ID),
		zap.String("final_price", summary.FinalPrice.String()),
	)
	return h.lc.writeLine(fmt.Sprintf("OK SALE %s %s %s %s",
		summary.BasePrice, summary.DiscountValue, summary.FinalPrice, summary.CustomerType))
}

// CUSTOMER_ADD <id> <fullName> <phone> [type]
func (h *storeConn) handleCustomerAdd(t []string) error {
	if len(t) < 4 {
		return h.lc.writeLine("ERR BAD_ARGS")
	}
	var ctype domain.CustomerType
	if len(t) >= 5 {
		parsed, err := domain.ParseCustomerType(strings.ToUpper(t[4]))
		if err != nil {
			return h.lc.writeLine("ERR " + reasonToken(err))
		}
		ctype = parsed
	}
	if err := h.srv.customers.AddCustomer(t[1], decodeToken(t[2]), t[3], ctype); err != nil {
		return h.lc.writeLine("ERR " + reasonToken(err))
	}
	return h.lc.writeLine("OK CUSTOMER_ADDED")
}

// CUSTOMER_LIST streams CUST lines, then the OK END sentinel.
func (h *storeConn) handleCustomerList() error {
	for _, c := range h.srv.customers.ListAll() {
		line := fmt.Sprintf("CUST %s,%s,%s,%s",
			c.ID, encodeToken(c.FullName), c.Phone, c.Type)
		if err := h.lc.writeLine(line); err != nil {
			return err
		}
	}
	return h.lc.writeLine("OK END")
}

// ADD_PRODUCT <branch> <category> <quantity> <price>
func (h *storeConn) handleAddProduct(t []string) error {
	if len(t) < 5 {
		return h.lc.writeLine("ERR BAD_ARGS")
	}
	branch, err := domain.ParseBranch(strings.ToUpper(t[1]))
	if err != nil {
		return h.lc.writeLine("ERR BAD_ARGS")
	}
	qty, err := strconv.Atoi(t[3])
	if err != nil {
		return h.lc.writeLine("ERR BAD_ARGS")
	}
	price, err := parsePrice(t[4])
	if err != nil {
		return h.lc.writeLine("ERR BAD_ARGS")
	}
	category := decodeToken(t[2])
	sku, err := h.srv.ledger.AddNewProduct(branch, category, qty, price)
	if err != nil {
		return h.lc.writeLine("ERR " + reasonToken(err))
	}
	return h.lc.writeLine(fmt.Sprintf("OK PRODUCT_ADDED %s %s", sku, encodeToken(category)))
}

// REMOVE_PRODUCT <branch> <sku>
func (h *storeConn) handleRemoveProduct(t []string) error {
	if len(t) < 3 {
		return h.lc.writeLine("ERR BAD_ARGS")
	}
	branch, err := domain.ParseBranch(strings.ToUpper(t[1]))
	if err != nil {
		return h.lc.writeLine("ERR BAD_ARGS")
	}
	if !h.srv.ledger.RemoveProduct(branch, t[2]) {
		return h.lc.writeLine("ERR SKU_NOT_FOUND")
	}
	return h.lc.writeLine("OK REMOVED")
}

// parsePrice reads a decimal price like "50.00" (or "50") into cents.
func parsePrice(s string) (domain.Money, error) {
	whole, frac, hasFrac := strings.Cut(s, ".")
	n, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("price %q: %w", s, err)
	}
	cents := n * 100
	if hasFrac {
		if len(frac) > 2 {
			return 0, fmt.Errorf("price %q: more than two decimal places", s)
		}
		for len(frac) < 2 {
			frac += "0"
		}
		f, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("price %q: %w", s, err)
		}
		if n < 0 {
			cents -= f
		} else {
			cents += f
		}
	}
	return domain.Money(cents), nil
}
