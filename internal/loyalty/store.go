// Package loyalty holds customer records and the discount policy that
// the sale path consults. Tier promotions are monotonic: purchases move
// a customer toward VIP and never back.
package loyalty

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/lalith-99/shopnet/internal/domain"
	"github.com/lalith-99/shopnet/internal/filedb"
)

// Policy is the loyalty tuning: discount rates per tier and the
// purchase counts that trigger promotion. The VIP rate is fixed at 12%
// by contract; the rest are explicit configuration.
type Policy struct {
	VIPDiscountPct       int64
	ReturningDiscountPct int64
	ReturningThreshold   int
	VIPThreshold         int
}

// DefaultPolicy mirrors the config defaults.
func DefaultPolicy() Policy {
	return Policy{
		VIPDiscountPct:       12,
		ReturningDiscountPct: 5,
		ReturningThreshold:   3,
		VIPThreshold:         10,
	}
}

// Discount returns the absolute discount for a base price at a tier.
func (p Policy) Discount(t domain.CustomerType, base domain.Money) domain.Money {
	switch t {
	case domain.CustomerVIP:
		return base.Percent(p.VIPDiscountPct)
	case domain.CustomerReturning:
		return base.Percent(p.ReturningDiscountPct)
	default:
		return 0
	}
}

// promote returns the tier a customer should hold after reaching the
// given purchase count. One step at a time, never downward.
func (p Policy) promote(t domain.CustomerType, purchases int) domain.CustomerType {
	switch t {
	case domain.CustomerNew:
		if purchases >= p.ReturningThreshold {
			return domain.CustomerReturning
		}
	case domain.CustomerReturning:
		if purchases >= p.VIPThreshold {
			return domain.CustomerVIP
		}
	}
	return t
}

// Store is the customer loyalty store. All record access goes through
// one mutex; the hot path (RecordPurchase during a sale) is a map
// lookup and a counter bump.
type Store struct {
	mu        sync.Mutex
	customers map[string]*domain.Customer
	policy    Policy
	db        *filedb.DB
	logger    *zap.Logger
}

// NewStore loads customer records from the backing file.
// File format: id,fullName,phone,type,purchaseCount
func NewStore(db *filedb.DB, policy Policy, logger *zap.Logger) (*Store, error) {
	s := &Store{
		customers: make(map[string]*domain.Customer),
		policy:    policy,
		db:        db,
		logger:    logger,
	}
	if db == nil {
		return s, nil
	}

	lines, err := db.ReadAllLines()
	if err != nil {
		return nil, fmt.Errorf("load customers: %w", err)
	}
	for _, line := range lines {
		c, err := parseLine(line)
		if err != nil {
			logger.Warn("skipping bad customer line", zap.String("line", line), zap.Error(err))
			continue
		}
		s.customers[c.ID] = &c
	}
	return s, nil
}

func parseLine(line string) (domain.Customer, error) {
	t := strings.Split(line, ",")
	if len(t) != 5 {
		return domain.Customer{}, fmt.Errorf("want 5 fields, got %d", len(t))
	}
	ctype, err := domain.ParseCustomerType(t[3])
	if err != nil {
		return domain.Customer{}, err
	}
	count, err := strconv.Atoi(t[4])
	if err != nil {
		return domain.Customer{}, fmt.Errorf("purchase count: %w", err)
	}
	return domain.Customer{
		ID:            t[0],
		FullName:      t[1],
		Phone:         t[2],
		Type:          ctype,
		PurchaseCount: count,
	}, nil
}

// AddCustomer creates a record. The id is caller-supplied and must be
// unused; an empty ctype defaults to NEW.
func (s *Store) AddCustomer(id, fullName, phone string, ctype domain.CustomerType) error {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(fullName) == "" {
		return fmt.Errorf("%w: id and name are required", domain.ErrValidation)
	}
	if ctype == "" {
		ctype = domain.CustomerNew
	}

	s.mu.Lock()
	if _, ok := s.customers[id]; ok {
		s.mu.Unlock()
		return domain.ErrCustomerExists
	}
	s.customers[id] = &domain.Customer{
		ID:       id,
		FullName: fullName,
		Phone:    phone,
		Type:     ctype,
	}
	s.mu.Unlock()

	s.persist()
	s.logger.Info("customer added", zap.String("id", id), zap.String("type", string(ctype)))
	return nil
}

// FindByID returns the current state of one customer.
func (s *Store) FindByID(id string) (domain.Customer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok {
		return domain.Customer{}, false
	}
	return *c, true
}

// ListAll returns a snapshot of every customer, ordered by id.
func (s *Store) ListAll() []domain.Customer {
	s.mu.Lock()
	out := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		out = append(out, *c)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RecordPurchase bumps the purchase counter and applies at most one
// promotion step. The caller computes any discount before calling, so
// a promotion only affects future sales.
func (s *Store) RecordPurchase(id string) error {
	s.mu.Lock()
	c, ok := s.customers[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrCustomerNotFound
	}
	c.PurchaseCount++
	before := c.Type
	c.Type = s.policy.promote(c.Type, c.PurchaseCount)
	after := c.Type
	s.mu.Unlock()

	s.persist()
	if after != before {
		s.logger.Info("customer promoted",
			zap.String("id", id),
			zap.String("from", string(before)),
			zap.String("to", string(after)),
		)
	}
	return nil
}

func (s *Store) persist() {
	if s.db == nil {
		return
	}
	var lines []string
	for _, c := range s.ListAll() {
		lines = append(lines, fmt.Sprintf("%s,%s,%s,%s,%d",
			c.ID, c.FullName, c.Phone, c.Type, c.PurchaseCount))
	}
	if err := s.db.WriteAllLines(lines); err != nil {
		s.logger.Warn("customer flush failed", zap.Error(err))
	}
}
