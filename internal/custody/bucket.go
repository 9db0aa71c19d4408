package custody

import "fmt"

// Scope is the top-level bucket namespace.
type Scope uint8

const (
	ScopeUser Scope = iota
	ScopeEvent
	ScopeSystem
	ScopeExternal
)

// Purpose identifies what a bucket holds within its scope.
type Purpose uint8

const (
	// User purposes
	PurposeWallet Purpose = iota
	PurposeEscrow
	PurposePromo

	// System purposes
	PurposeTreasury

	// External purposes
	PurposeDeposits
	PurposeWithdrawals
)

// BucketKey is the in-memory key for balance tracking.
type BucketKey struct {
	Scope    Scope
	EntityID uint64 // user ID or event ID; zero for system/external buckets
	Purpose  Purpose
}

func UserWallet(userID uint64) BucketKey {
	return BucketKey{Scope: ScopeUser, EntityID: userID, Purpose: PurposeWallet}
}

func UserEscrow(userID uint64) BucketKey {
	return BucketKey{Scope: ScopeUser, EntityID: userID, Purpose: PurposeEscrow}
}

func UserPromo(userID uint64) BucketKey {
	return BucketKey{Scope: ScopeUser, EntityID: userID, Purpose: PurposePromo}
}

func EventEscrow(eventID uint64) BucketKey {
	return BucketKey{Scope: ScopeEvent, EntityID: eventID, Purpose: PurposeEscrow}
}

func Treasury() BucketKey {
	return BucketKey{Scope: ScopeSystem, Purpose: PurposeTreasury}
}

func ExternalDeposits() BucketKey {
	return BucketKey{Scope: ScopeExternal, Purpose: PurposeDeposits}
}

func ExternalWithdrawals() BucketKey {
	return BucketKey{Scope: ScopeExternal, Purpose: PurposeWithdrawals}
}

// External reports whether the bucket sits at the system boundary.
// Transfers from an external bucket mint funds into the ledger; transfers
// into one burn them out.
func (k BucketKey) External() bool {
	return k.Scope == ScopeExternal
}

// Path returns the string representation for storage/logging.
func (k BucketKey) Path() string {
	switch k.Scope {
	case ScopeUser:
		return fmt.Sprintf("user:%d:%s", k.EntityID, k.purposeName())
	case ScopeEvent:
		return fmt.Sprintf("event:%d:%s", k.EntityID, k.purposeName())
	case ScopeSystem:
		return fmt.Sprintf("system:%s", k.purposeName())
	case ScopeExternal:
		return fmt.Sprintf("external:%s", k.purposeName())
	}
	return "unknown"
}

func (k BucketKey) purposeName() string {
	switch k.Purpose {
	case PurposeWallet:
		return "wallet"
	case PurposeEscrow:
		return "escrow"
	case PurposePromo:
		return "promo"
	case PurposeTreasury:
		return "treasury"
	case PurposeDeposits:
		return "deposits"
	case PurposeWithdrawals:
		return "withdrawals"
	default:
		return "unknown"
	}
}

// Authority is the signing scope that controls transfers out of a bucket.
type Authority string

const (
	TreasuryAuthority Authority = "usdc_treasury"
	GatewayAuthority  Authority = "usdc_gateway"
)

func UserAuthority(userID uint64) Authority {
	return Authority(fmt.Sprintf("usdc_uid_%d", userID))
}

func EventAuthority(eventID uint64) Authority {
	return Authority(fmt.Sprintf("usdc_eid_%d", eventID))
}

// DerivedAuthority returns the default authority for a bucket, before
// any SetAuthority override.
func DerivedAuthority(k BucketKey) Authority {
	switch k.Scope {
	case ScopeUser:
		return UserAuthority(k.EntityID)
	case ScopeEvent:
		return EventAuthority(k.EntityID)
	case ScopeSystem:
		return TreasuryAuthority
	case ScopeExternal:
		return GatewayAuthority
	}
	return ""
}
