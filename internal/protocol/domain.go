// Package protocol defines the shared domain vocabulary of the WhistleChain
// coordinator: evidence categories, lifecycle statuses, inspector verdicts
// and the error kinds every component reports.
package protocol

// ============================================================================
// CATEGORIES
// ============================================================================

// Category is the closed set of evidence categories.
type Category string

const (
	CategoryFinancial    Category = "FINANCIAL"
	CategoryConstruction Category = "CONSTRUCTION"
	CategoryFood         Category = "FOOD"
	CategoryAcademic     Category = "ACADEMIC"
)

// Categories lists every valid category in declaration order.
var Categories = []Category{
	CategoryFinancial,
	CategoryConstruction,
	CategoryFood,
	CategoryAcademic,
}

// ParseCategory normalizes and validates a category string.
func ParseCategory(s string) (Category, error) {
	c := Category(upper(s))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", &ValidationError{Msg: "unknown category: " + s}
}

func upper(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] >= 'a' && b[i] <= 'z' {
			b[i] -= 'a' - 'A'
		}
	}
	return string(b)
}

// ============================================================================
// LIFECYCLE STATUS
// ============================================================================

// Status is the lifecycle status of an evidence item. It only ever advances.
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusUnderVerification Status = "UNDER_VERIFICATION"
	StatusVerified          Status = "VERIFIED"
	StatusRejected          Status = "REJECTED"
	StatusDisputed          Status = "DISPUTED"
	StatusResolved          Status = "RESOLVED"
	StatusPublished         Status = "PUBLISHED"
)

// statusRank orders the lifecycle. The three finalized verdict statuses share
// one rank: an item moves PENDING -> UNDER_VERIFICATION -> one of
// VERIFIED/REJECTED/DISPUTED -> RESOLVED -> PUBLISHED.
var statusRank = map[Status]int{
	StatusPending:           0,
	StatusUnderVerification: 1,
	StatusVerified:          2,
	StatusRejected:          2,
	StatusDisputed:          2,
	StatusResolved:          3,
	StatusPublished:         4,
}

// CanAdvance reports whether moving from to next is a forward transition.
// Regressions are never permitted.
func CanAdvance(from, to Status) bool {
	fr, ok := statusRank[from]
	if !ok {
		return false
	}
	tr, ok := statusRank[to]
	if !ok {
		return false
	}
	return tr > fr
}

// OnChainStatus maps a lifecycle status to the registry contract's status
// code (the be64 status field of the evidence box).
func OnChainStatus(s Status) uint64 {
	switch s {
	case StatusPending:
		return 0
	case StatusVerified:
		return 1
	case StatusDisputed:
		return 2
	case StatusRejected:
		return 3
	case StatusPublished:
		return 4
	default:
		return 0
	}
}

// ============================================================================
// VERDICTS
// ============================================================================

// Verdict is an inspector's revealed verdict. The numeric values are part of
// the commit-reveal hash preimage and must match the on-chain program.
type Verdict int

const (
	VerdictAuthentic    Verdict = 1
	VerdictFake         Verdict = 2
	VerdictInconclusive Verdict = 3
)

// Label returns the public label for a verdict.
func (v Verdict) Label() string {
	switch v {
	case VerdictAuthentic:
		return "AUTHENTIC"
	case VerdictFake:
		return "FAKE"
	case VerdictInconclusive:
		return "INCONCLUSIVE"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether v is one of the three accepted verdicts.
func (v Verdict) Valid() bool {
	return v >= VerdictAuthentic && v <= VerdictInconclusive
}
