package inventory

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalith-99/shopnet/internal/domain"
	"github.com/lalith-99/shopnet/internal/filedb"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := NewLedger(nil, zap.NewNop())
	require.NoError(t, err)
	return l
}

func TestAddAndListRoundTrip(t *testing.T) {
	l := newTestLedger(t)

	sku, err := l.AddNewProduct(domain.BranchHolon, "Snacks", 10, 5000)
	require.NoError(t, err)

	products := l.ListByBranch(domain.BranchHolon)
	require.Len(t, products, 1)
	assert.Equal(t, sku, products[0].SKU)
	assert.Equal(t, "Snacks", products[0].Category)
	assert.Equal(t, 10, products[0].Quantity)
	assert.Equal(t, domain.Money(5000), products[0].Price)

	// Other branches are separate partitions.
	assert.Empty(t, l.ListByBranch(domain.BranchTelAviv))
}

func TestRemoveProduct(t *testing.T) {
	l := newTestLedger(t)
	sku, err := l.AddNewProduct(domain.BranchHolon, "Snacks", 10, 5000)
	require.NoError(t, err)

	assert.True(t, l.RemoveProduct(domain.BranchHolon, sku))
	assert.Empty(t, l.ListByBranch(domain.BranchHolon))

	// Idempotent delete: absent SKU is not an error, just false.
	assert.False(t, l.RemoveProduct(domain.BranchHolon, sku))
}

func TestAddProductValidation(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.AddNewProduct(domain.BranchHolon, "  ", 1, 100)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = l.AddNewProduct(domain.BranchHolon, "Snacks", -1, 100)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = l.AddNewProduct(domain.BranchHolon, "Snacks", 1, -100)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestFreshSKUsUnderConcurrentAllocation(t *testing.T) {
	l := newTestLedger(t)

	const n = 32
	var wg sync.WaitGroup
	skus := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sku, err := l.AddNewProduct(domain.BranchRishon, "Bulk", 1, 100)
			assert.NoError(t, err)
			skus <- sku
		}()
	}
	wg.Wait()
	close(skus)

	seen := make(map[string]bool)
	for sku := range skus {
		assert.False(t, seen[sku], "duplicate sku %s", sku)
		seen[sku] = true
	}
	assert.Len(t, seen, n)
}

func TestUpdateQuantityNeverNegative(t *testing.T) {
	l := newTestLedger(t)
	sku, err := l.AddNewProduct(domain.BranchHolon, "Snacks", 10, 5000)
	require.NoError(t, err)

	require.NoError(t, l.UpdateQuantity(domain.BranchHolon, sku, -6))
	err = l.UpdateQuantity(domain.BranchHolon, sku, -6)
	assert.ErrorIs(t, err, domain.ErrNotEnoughStock)

	p, ok := l.FindProduct(domain.BranchHolon, sku)
	require.True(t, ok)
	assert.Equal(t, 4, p.Quantity, "failed decrement must leave quantity unchanged")
}

func TestUpdateQuantityUnknownSKU(t *testing.T) {
	l := newTestLedger(t)
	assert.ErrorIs(t, l.UpdateQuantity(domain.BranchHolon, "404", 1), domain.ErrSKUNotFound)
}

// Stock invariant under interleaving: final quantity equals initial
// plus restocks minus successful sales, and never goes negative.
func TestConcurrentSalesSerialize(t *testing.T) {
	l := newTestLedger(t)
	sku, err := l.AddNewProduct(domain.BranchHolon, "Snacks", 50, 100)
	require.NoError(t, err)

	const sellers = 40
	var sold atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < sellers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := l.UpdateQuantity(domain.BranchHolon, sku, -3); err == nil {
				sold.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	p, ok := l.FindProduct(domain.BranchHolon, sku)
	require.True(t, ok)
	assert.Equal(t, 50-int(sold.Load())*3, p.Quantity)
	assert.GreaterOrEqual(t, p.Quantity, 0)
	// 50 units at 3 apiece: no more than 16 sales can have succeeded.
	assert.LessOrEqual(t, int(sold.Load()), 16)
}

func TestLedgerPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.txt")
	db, err := filedb.Open(path)
	require.NoError(t, err)

	l, err := NewLedger(db, zap.NewNop())
	require.NoError(t, err)
	sku, err := l.AddNewProduct(domain.BranchTelAviv, "Office Chairs", 5, 129900)
	require.NoError(t, err)

	reloaded, err := NewLedger(db, zap.NewNop())
	require.NoError(t, err)
	p, ok := reloaded.FindProduct(domain.BranchTelAviv, sku)
	require.True(t, ok)
	assert.Equal(t, "Office Chairs", p.Category)
	assert.Equal(t, 5, p.Quantity)
	assert.Equal(t, domain.Money(129900), p.Price)

	// SKU allocation resumes after the highest loaded id.
	next, err := reloaded.AddNewProduct(domain.BranchTelAviv, "Desks", 1, 100)
	require.NoError(t, err)
	assert.NotEqual(t, sku, next)
}
