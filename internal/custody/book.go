package custody

import "fmt"

// Book maintains in-memory bucket balances and enforces authority
// scoping on every transfer. Batches apply all-or-nothing: a failed
// entry leaves every balance untouched.
type Book struct {
	balances    map[BucketKey]uint64
	authorities map[BucketKey]Authority // SetAuthority overrides

	// Boundary counters for the conservation invariant:
	// sum(balances) == minted - burned.
	minted uint64
	burned uint64
}

func NewBook() *Book {
	return &Book{
		balances:    make(map[BucketKey]uint64),
		authorities: make(map[BucketKey]Authority),
	}
}

// Balance returns the current balance for a bucket.
func (b *Book) Balance(key BucketKey) uint64 {
	return b.balances[key]
}

// AuthorityFor returns the authority controlling a bucket: an explicit
// override if one was set, the derived scope otherwise.
func (b *Book) AuthorityFor(key BucketKey) Authority {
	if auth, ok := b.authorities[key]; ok {
		return auth
	}
	return DerivedAuthority(key)
}

// SetAuthority reassigns control of a bucket.
func (b *Book) SetAuthority(key BucketKey, auth Authority) {
	b.authorities[key] = auth
}

// Apply validates and applies a batch atomically. Each entry requires
// the presented authority to control the source bucket and, for
// internal sources, sufficient balance. Entries see the effects of
// earlier entries in the same batch.
func (b *Book) Apply(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	staged := make(map[BucketKey]uint64, len(batch.Journals)*2)
	stagedBalance := func(key BucketKey) uint64 {
		if v, ok := staged[key]; ok {
			return v
		}
		return b.balances[key]
	}

	var minted, burned uint64
	for _, j := range batch.Journals {
		if j.Authority != b.AuthorityFor(j.From) {
			return fmt.Errorf("journal %s: authority %q for bucket %s: %w",
				j.JournalID, j.Authority, j.From.Path(), ErrAuthorityMismatch)
		}

		switch {
		case j.From.External():
			minted += j.Amount
		default:
			have := stagedBalance(j.From)
			if have < j.Amount {
				return fmt.Errorf("journal %s: bucket %s has %d, need %d: %w",
					j.JournalID, j.From.Path(), have, j.Amount, ErrInsufficientFunds)
			}
			staged[j.From] = have - j.Amount
		}

		switch {
		case j.To.External():
			burned += j.Amount
		default:
			staged[j.To] = stagedBalance(j.To) + j.Amount
		}
	}

	for key, balance := range staged {
		if balance == 0 {
			delete(b.balances, key)
			continue
		}
		b.balances[key] = balance
	}
	b.minted += minted
	b.burned += burned

	return nil
}

// TotalMinted returns the cumulative inflow across the system boundary.
func (b *Book) TotalMinted() uint64 { return b.minted }

// TotalBurned returns the cumulative outflow across the system boundary.
func (b *Book) TotalBurned() uint64 { return b.burned }

// ValidateConservation verifies the ledger is zero-sum against the
// boundary counters.
func (b *Book) ValidateConservation() error {
	var total uint64
	for _, balance := range b.balances {
		total += balance
	}

	if total+b.burned != b.minted {
		return fmt.Errorf("conservation violated: held=%d burned=%d minted=%d",
			total, b.burned, b.minted)
	}
	return nil
}

// Snapshot returns a copy of all balances (for state hashing).
func (b *Book) Snapshot() map[BucketKey]uint64 {
	snapshot := make(map[BucketKey]uint64, len(b.balances))
	for k, v := range b.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore seeds a bucket balance during snapshot recovery.
func (b *Book) Restore(key BucketKey, balance uint64) {
	if balance == 0 {
		delete(b.balances, key)
		return
	}
	b.balances[key] = balance
}

// RestoreBoundary seeds the boundary counters during snapshot recovery.
func (b *Book) RestoreBoundary(minted, burned uint64) {
	b.minted = minted
	b.burned = burned
}

// RestoreAuthority seeds an authority override during snapshot recovery.
func (b *Book) RestoreAuthority(key BucketKey, auth Authority) {
	b.authorities[key] = auth
}

// Authorities returns a copy of the authority overrides.
func (b *Book) Authorities() map[BucketKey]Authority {
	out := make(map[BucketKey]Authority, len(b.authorities))
	for k, v := range b.authorities {
		out[k] = v
	}
	return out
}
