package sales

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lalith-99/shopnet/internal/domain"
	"github.com/lalith-99/shopnet/internal/loyalty"
)

func TestSellVIPDiscount(t *testing.T) {
	svc := NewService(loyalty.DefaultPolicy())

	product := domain.Product{SKU: "7", Branch: domain.BranchHolon, Price: 5000}
	customer := domain.Customer{ID: "c1", Type: domain.CustomerVIP}

	// 6 units at 50.00: base 300.00, VIP 12% -> 36.00 off.
	summary := svc.Sell(product, 6, customer)
	assert.Equal(t, "300.00", summary.BasePrice.String())
	assert.Equal(t, "36.00", summary.DiscountValue.String())
	assert.Equal(t, "264.00", summary.FinalPrice.String())
	assert.Equal(t, domain.CustomerVIP, summary.CustomerType)
}

func TestSellUsesTierAsPassed(t *testing.T) {
	svc := NewService(loyalty.DefaultPolicy())
	product := domain.Product{SKU: "1", Price: 1000}

	// The caller snapshots the customer before recording the purchase,
	// so a promotion triggered by this sale cannot change this receipt.
	summary := svc.Sell(product, 1, domain.Customer{ID: "c1", Type: domain.CustomerNew})
	assert.Equal(t, domain.Money(0), summary.DiscountValue)
	assert.Equal(t, summary.BasePrice, summary.FinalPrice)
	assert.Equal(t, domain.CustomerNew, summary.CustomerType)
}

func TestSellReturningDiscount(t *testing.T) {
	svc := NewService(loyalty.DefaultPolicy())
	product := domain.Product{SKU: "1", Price: 2000}

	summary := svc.Sell(product, 2, domain.Customer{ID: "c1", Type: domain.CustomerReturning})
	assert.Equal(t, "40.00", summary.BasePrice.String())
	assert.Equal(t, "2.00", summary.DiscountValue.String())
	assert.Equal(t, "38.00", summary.FinalPrice.String())
}

func TestMoneyFormatting(t *testing.T) {
	assert.Equal(t, "0.00", domain.Money(0).String())
	assert.Equal(t, "0.05", domain.Money(5).String())
	assert.Equal(t, "12.30", domain.Money(1230).String())
	assert.Equal(t, "-3.25", domain.Money(-325).String())
}
