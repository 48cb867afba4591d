package canflash

import "fmt"

// Filter is one hardware acceptance entry. A set Mask bit means the
// corresponding identifier bit must match ID. AcceptAll bypasses ID and Mask.
type Filter struct {
	AcceptAll bool
	Extended  bool
	ID        uint32
	Mask      uint32
}

// AcceptAll returns the wildcard filter.
func AcceptAll() Filter {
	return Filter{AcceptAll: true}
}

// NewStandardFilter matches exactly one 11-bit identifier.
func NewStandardFilter(id uint32) Filter {
	return Filter{ID: id, Mask: MaxStandardID}
}

// NewExtendedFilter matches exactly one 29-bit identifier.
func NewExtendedFilter(id uint32) Filter {
	return Filter{Extended: true, ID: id, Mask: MaxExtendedID}
}

// NewFilter matches exactly id.
func NewFilter(id Identifier) Filter {
	if id.extended {
		return NewExtendedFilter(id.raw)
	}
	return NewStandardFilter(id.raw)
}

// WithMask returns a copy of f using mask.
func (f Filter) WithMask(mask uint32) Filter {
	f.Mask = mask
	return f
}

// Matches reports whether a frame passes the filter.
func (f Filter) Matches(frame Frame) bool {
	if f.AcceptAll {
		return true
	}
	if frame.IsExtended() != f.Extended {
		return false
	}
	return frame.Identifier()&f.Mask == f.ID&f.Mask
}

func (f Filter) String() string {
	if f.AcceptAll {
		return "accept all"
	}
	if f.Extended {
		return fmt.Sprintf("0x%08X/0x%08X", f.ID, f.Mask)
	}
	return fmt.Sprintf("0x%03X/0x%03X", f.ID, f.Mask)
}

// FilterCapabilities describes the hardware filtering a transport offers:
// the number of discrete acceptance entries and whether an entry can carry a
// mask.
type FilterCapabilities struct {
	Slots int
	Mask  bool
}

// Strategy is the outcome of a filter negotiation.
type Strategy int

const (
	StrategyExactList Strategy = iota
	StrategyMasked
)

func (s Strategy) String() string {
	switch s {
	case StrategyExactList:
		return "exact list"
	case StrategyMasked:
		return "masked"
	default:
		return "unknown"
	}
}

// Negotiation is the outcome of Negotiate. Filters is what gets installed.
// For StrategyMasked, Base is the AND and Mask the OR of all identifiers;
// Mask marks the bits allowed to vary and the installed filter carries its
// complement as the must-match mask.
type Negotiation struct {
	Strategy Strategy
	Filters  []Filter
	Base     uint32
	Mask     uint32
}

// Negotiate expresses the identifiers in ids within caps.
//
// If there are enough slots every identifier gets its own exact filter.
// Otherwise, if masks are supported, a single combined filter is built from
// the AND and OR of all identifiers. It admits a superset of ids; callers
// must discard frames whose identifier is not in ids. Without masks
// negotiation fails with ErrInsufficientFilterCapacity; there is no
// software-only fallback.
func Negotiate(ids []Identifier, caps FilterCapabilities) (Negotiation, error) {
	if len(ids) == 0 {
		return Negotiation{}, fmt.Errorf("%w: no identifiers to admit", ErrInsufficientFilterCapacity)
	}
	if caps.Slots >= len(ids) {
		filters := make([]Filter, 0, len(ids))
		for _, id := range ids {
			filters = append(filters, NewFilter(id))
		}
		return Negotiation{Strategy: StrategyExactList, Filters: filters}, nil
	}
	if caps.Mask && caps.Slots >= 1 {
		extended := ids[0].extended
		base := ids[0].raw
		var mask uint32
		for _, id := range ids {
			if id.extended != extended {
				return Negotiation{}, fmt.Errorf("%w: cannot merge standard and extended identifiers into one mask", ErrInsufficientFilterCapacity)
			}
			base &= id.raw
			mask |= id.raw
		}
		width := uint32(MaxStandardID)
		if extended {
			width = MaxExtendedID
		}
		return Negotiation{
			Strategy: StrategyMasked,
			Filters:  []Filter{{Extended: extended, ID: base, Mask: ^mask & width}},
			Base:     base,
			Mask:     mask,
		}, nil
	}
	return Negotiation{}, fmt.Errorf("%w: %d identifiers, %d slots, mask support %v",
		ErrInsufficientFilterCapacity, len(ids), caps.Slots, caps.Mask)
}
