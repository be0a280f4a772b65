// Package inventory owns the per-branch stock ledger. Quantity checks
// and writes on one (branch, sku) pair are a single atomic step, so
// concurrent sales can never drive stock negative or lose an update.
package inventory

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

// record is the mutable stock entry behind a domain.Product. Quantity
// mutations take record.mu; the branch map itself is guarded by the
// branch RWMutex, so operations on disjoint SKUs proceed in parallel.
type record struct {
	mu       sync.Mutex
	sku      string
	category string
	branch   domain.Branch
	quantity int
	price    domain.Money
}

func (r *record) snapshot() domain.Product {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.Product{
		SKU:      r.sku,
		Category: r.category,
		Branch:   r.branch,
		Quantity: r.quantity,
		Price:    r.price,
	}
}

// branchTable is one branch's partition of the ledger.
type branchTable struct {
	mu       sync.RWMutex
	products map[string]*record
	nextSKU  int
}

// Ledger is the process-wide inventory store, partitioned by branch.
type Ledger struct {
	branches map[domain.Branch]*branchTable
	db       *filedb.DB
	logger   *zap.Logger
}

// NewLedger loads existing product records from the backing file.
// File format: sku,category,branch,quantity,priceCents
func NewLedger(db *filedb.DB, logger *zap.Logger) (*Ledger, error) {
	l := &Ledger{
		branches: make(map[domain.Branch]*branchTable),
		db:       db,
		logger:   logger,
	}
	for _, b := range domain.Branches() {
		l.branches[b] = &branchTable{products: make(map[string]*record), nextSKU: 1}
	}
	if db == nil {
		return l, nil
	}

	lines, err := db.ReadAllLines()
	if err != nil {
		return nil, fmt.Errorf("load inventory: %w", err)
	}
	for _, line := range lines {
		p, err := parseLine(line)
		if err != nil {
			logger.Warn("skipping bad product line", zap.String("line", line), zap.Error(err))
			continue
		}
		t := l.branches[p.Branch]
		t.products[p.SKU] = &record{
			sku:      p.SKU,
			category: p.Category,
			branch:   p.Branch,
			quantity: p.Quantity,
			price:    p.Price,
		}
		if n, err := strconv.Atoi(p.SKU); err == nil && n >= t.nextSKU {
			t.nextSKU = n + 1
		}
	}
	return l, nil
}

func parseLine(line string) (domain.Product, error) {
	t := strings.Split(line, ",")
	if len(t) != 5 {
		return domain.Product{}, fmt.Errorf("want 5 fields, got %d", len(t))
	}
	branch, err := domain.ParseBranch(t[2])
	if err != nil {
		return domain.Product{}, err
	}
	qty, err := strconv.Atoi(t[3])
	if err != nil {
		return domain.Product{}, fmt.Errorf("quantity: %w", err)
	}
	cents, err := strconv.ParseInt(t[4], 10, 64)
	if err != nil {
		return domain.Product{}, fmt.Errorf("price: %w", err)
	}
	return domain.Product{
		SKU:      t[0],
		Category: t[1],
		Branch:   branch,
		Quantity: qty,
		Price:    domain.Money(cents),
	}, nil
}

// ListByBranch returns a stable snapshot of the branch's products,
// ordered by SKU. No item appears twice or half-updated.
func (l *Ledger) ListByBranch(branch domain.Branch) []domain.Product {
	t, ok := l.branches[branch]
	if !ok {
		return nil
	}

	t.mu.RLock()
	recs := make([]*record, 0, len(t.products))
	for _, r := range t.products {
		recs = append(recs, r)
	}
	t.mu.RUnlock()

	out := make([]domain.Product, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out
}

// FindProduct returns the current state of one product, if present.
func (l *Ledger) FindProduct(branch domain.Branch, sku string) (domain.Product, bool) {
	t, ok := l.branches[branch]
	if !ok {
		return domain.Product{}, false
	}
	t.mu.RLock()
	r, ok := t.products[sku]
	t.mu.RUnlock()
	if !ok {
		return domain.Product{}, false
	}
	return r.snapshot(), true
}

// UpdateQuantity applies a stock delta. For negative deltas the
// quantity check and the write happen under the record's lock, so a
// losing concurrent sale observes the already-decremented value and
// fails cleanly with ErrNotEnoughStock.
func (l *Ledger) UpdateQuantity(branch domain.Branch, sku string, delta int) error {
	t, ok := l.branches[branch]
	if !ok {
		return domain.ErrSKUNotFound
	}
	t.mu.RLock()
	r, ok := t.products[sku]
	t.mu.RUnlock()
	if !ok {
		return domain.ErrSKUNotFound
	}

	r.mu.Lock()
	if r.quantity+delta < 0 {
		r.mu.Unlock()
		return domain.ErrNotEnoughStock
	}
	r.quantity += delta
	r.mu.Unlock()

	l.persist()
	return nil
}

// AddNewProduct allocates a fresh SKU in the branch and creates the
// product. SKU allocation is guarded by the branch write lock, so
// concurrent additions never collide.
func (l *Ledger) AddNewProduct(branch domain.Branch, category string, quantity int, price domain.Money) (string, error) {
	if strings.TrimSpace(category) == "" {
		return "", fmt.Errorf("%w: empty category", domain.ErrValidation)
	}
	if quantity < 0 {
		return "", fmt.Errorf("%w: negative quantity", domain.ErrValidation)
	}
	if price < 0 {
		return "", fmt.Errorf("%w: negative price", domain.ErrValidation)
	}
	t, ok := l.branches[branch]
	if !ok {
		return "", fmt.Errorf("%w: branch %q", domain.ErrValidation, branch)
	}

	t.mu.Lock()
	sku := strconv.Itoa(t.nextSKU)
	t.nextSKU++
	t.products[sku] = &record{
		sku:      sku,
		category: category,
		branch:   branch,
		quantity: quantity,
		price:    price,
	}
	t.mu.Unlock()

	l.persist()
	l.logger.Info("product added",
		zap.String("branch", string(branch)),
		zap.String("sku", sku),
		zap.String("category", category),
	)
	return sku, nil
}

// RemoveProduct deletes a product. It reports whether anything was
// removed; deleting an absent SKU is not an error.
func (l *Ledger) RemoveProduct(branch domain.Branch, sku string) bool {
	t, ok := l.branches[branch]
	if !ok {
		return false
	}

	t.mu.Lock()
	_, existed := t.products[sku]
	delete(t.products, sku)
	t.mu.Unlock()

	if existed {
		l.persist()
		l.logger.Info("product removed",
			zap.String("branch", string(branch)),
			zap.String("sku", sku),
		)
	}
	return existed
}

// persist flushes the full ledger to the backing file. Best effort:
// a write failure is logged, never surfaced to the sale path.
func (l *Ledger) persist() {
	if l.db == nil {
		return
	}
	var lines []string
	for _, b := range domain.Branches() {
		for _, p := range l.ListByBranch(b) {
			lines = append(lines, fmt.Sprintf("%s,%s,%s,%d,%d",
				p.SKU, p.Category, p.Branch, p.Quantity, int64(p.Price)))
		}
	}
	if err := l.db.WriteAllLines(lines); err != nil {
		l.logger.Warn("inventory flush failed", zap.Error(err))
	}
}
