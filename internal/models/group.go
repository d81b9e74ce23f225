package models

// Group represents a set of members who share expenses.
// Every balance and debt computation is scoped to exactly one group.
type Group struct {
	// ID is the unique identifier for the group (UUID format).
	ID string

	// Name is the display name of the group (e.g., "Roommates", "Ski Trip").
	Name string

	// DefaultCurrency is the 3-letter ISO code settlements convert into
	// when no other currency is requested.
	DefaultCurrency string

	// PreferredCurrency optionally overrides DefaultCurrency for display
	// purposes. Empty when unset.
	PreferredCurrency string

	// Members is the list of user IDs belonging to this group.
	Members []string

	// CreatedAt is the Unix timestamp when the group was created.
	CreatedAt int64
}

// HasMember reports whether userID belongs to the group.
func (g *Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// DisplayCurrency resolves the currency used for balance reads when the
// caller does not request one: preferred currency if set, else default.
func (g *Group) DisplayCurrency() string {
	if g.PreferredCurrency != "" {
		return g.PreferredCurrency
	}
	return g.DefaultCurrency
}
