// Package sales computes sale receipts. The stock decrement and the
// purchase recording live with their owning stores; this package is the
// pure pricing step in between.
package sales

import (
	"github.com/lalith-99/shopnet/internal/domain"
	"github.com/lalith-99/shopnet/internal/loyalty"
)

type Service struct {
	policy loyalty.Policy
}

func NewService(policy loyalty.Policy) *Service {
	return &Service{policy: policy}
}

// Sell prices a sale of quantity units of product for customer. The
// discount is taken from the customer's tier as passed in, so a
// promotion triggered by this very sale cannot retroactively change
// the receipt.
func (s *Service) Sell(product domain.Product, quantity int, customer domain.Customer) domain.SaleSummary {
	base := product.Price * domain.Money(quantity)
	discount := s.policy.Discount(customer.Type, base)
	return domain.SaleSummary{
		BasePrice:     base,
		DiscountValue: discount,
		FinalPrice:    base - discount,
		CustomerType:  customer.Type,
	}
}
