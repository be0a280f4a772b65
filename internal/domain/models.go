package domain

import "fmt"

// Branch is one of the fixed store locations. Each branch owns its own
// inventory partition; a SKU is only unique within its branch.
type Branch string

const (
	BranchHolon   Branch = "HOLON"
	BranchTelAviv Branch = "TEL_AVIV"
	BranchRishon  Branch = "RISHON"
)

// Branches lists every known branch, in display order.
func Branches() []Branch {
	return []Branch{BranchHolon, BranchTelAviv, BranchRishon}
}

// ParseBranch normalizes and validates a wire token into a Branch.
func ParseBranch(s string) (Branch, error) {
	switch Branch(s) {
	case BranchHolon, BranchTelAviv, BranchRishon:
		return Branch(s), nil
	}
	return "", fmt.Errorf("%w: branch %q", ErrValidation, s)
}

// Role is the coarse login role carried on the LOGIN verb.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleEmployee Role = "EMPLOYEE"
)

// EmployeeRole is the fine-grained job role stored on an employee record.
// Shift managers get extra chat privileges (observe conversations).
type EmployeeRole string

const (
	RoleSalesperson  EmployeeRole = "SALESPERSON"
	RoleCashier      EmployeeRole = "CASHIER"
	RoleShiftManager EmployeeRole = "SHIFT_MANAGER"
)

// ParseEmployeeRole validates a wire token into an EmployeeRole.
func ParseEmployeeRole(s string) (EmployeeRole, error) {
	switch EmployeeRole(s) {
	case RoleSalesperson, RoleCashier, RoleShiftManager:
		return EmployeeRole(s), nil
	}
	return "", fmt.Errorf("%w: role %q", ErrValidation, s)
}

// Identity is the authenticated principal bound to one connection.
// It is immutable for the lifetime of a session.
type Identity struct {
	Username string
	Role     Role
	// Branch and EmployeeRole are set for employees only.
	Branch       Branch
	EmployeeRole EmployeeRole
}

// CanObserveChats reports whether this identity may list and join
// other people's conversations.
func (id Identity) CanObserveChats() bool {
	return id.EmployeeRole == RoleShiftManager
}

// Money is an amount in integer cents. Arithmetic on cents avoids the
// float rounding drift a price column would otherwise accumulate.
type Money int64

// String renders the amount with two decimals, e.g. 30000 -> "300.00".
func (m Money) String() string {
	sign := ""
	if m < 0 {
		sign, m = "-", -m
	}
	return fmt.Sprintf("%s%d.%02d", sign, m/100, m%100)
}

// Percent returns p percent of m, rounded half up on the cent.
func (m Money) Percent(p int64) Money {
	return Money((int64(m)*p + 50) / 100)
}

// Product is one stock record owned by the inventory ledger.
type Product struct {
	SKU      string
	Category string
	Branch   Branch
	Quantity int
	Price    Money
}

// CustomerType is the loyalty tier. Promotions are monotonic: a customer
// moves toward VIP and never back.
type CustomerType string

const (
	CustomerNew       CustomerType = "NEW"
	CustomerReturning CustomerType = "RETURNING"
	CustomerVIP       CustomerType = "VIP"
)

// ParseCustomerType validates a wire token into a CustomerType.
func ParseCustomerType(s string) (CustomerType, error) {
	switch CustomerType(s) {
	case CustomerNew, CustomerReturning, CustomerVIP:
		return CustomerType(s), nil
	}
	return "", fmt.Errorf("%w: customer type %q", ErrValidation, s)
}

// Customer is one loyalty record.
type Customer struct {
	ID            string
	FullName      string
	Phone         string
	Type          CustomerType
	PurchaseCount int
}

// SaleSummary is the receipt for a single sale. It is computed once,
// returned to the caller, and never persisted.
type SaleSummary struct {
	BasePrice     Money
	DiscountValue Money
	FinalPrice    Money
	CustomerType  CustomerType
}
