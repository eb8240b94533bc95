package models

import (
	"fmt"
	"strings"
)

// ProfileSchemaVersion is bumped whenever the validated shape of a Profile
// changes. Stored on every row so old records remain interpretable.
const ProfileSchemaVersion = 1

// Profile is a reusable contributor/billing identity. A profile may back
// many pledges; the engine only ever reads it. The full card number is never
// stored: only the last four digits plus a bcrypt hash kept for lookup.
type Profile struct {
	ID            string
	SchemaVersion int

	NameFirst  string
	NameLast   string
	Address    string
	City       string
	State      string
	Zip        string
	Employer   string
	Occupation string

	// CardLastFour narrows candidate rows when locating a pledge by card
	// number; CardHash confirms the match.
	CardLastFour string
	CardHash     string

	// GatewayToken is the stored payment instrument reference the gateway
	// charges against.
	GatewayToken string

	CreatedAt int64
}

// Name returns the contributor's display name.
func (p *Profile) Name() string {
	return strings.TrimSpace(p.NameFirst + " " + p.NameLast)
}

// Validate checks the fixed profile schema at the creation boundary.
// Downstream code relies on a stored Profile being well formed and never
// re-validates ad hoc.
func (p *Profile) Validate() error {
	var problems []string
	if p.NameFirst == "" || p.NameLast == "" {
		problems = append(problems, "contributor name required")
	}
	if p.Address == "" || p.City == "" || p.State == "" || p.Zip == "" {
		problems = append(problems, "complete address required")
	}
	if p.Employer == "" || p.Occupation == "" {
		problems = append(problems, "employer and occupation required for disclosure")
	}
	if len(p.CardLastFour) != 4 {
		problems = append(problems, "card last four digits required")
	}
	if p.GatewayToken == "" {
		problems = append(problems, "gateway payment token required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid profile: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Notification records a state transition the supporter should see, with an
// explicit acknowledge operation instead of a mutable session-bound list.
type Notification struct {
	ID             string
	ProfileID      string
	PledgeID       string
	Kind           string
	Text           string
	CreatedAt      int64
	AcknowledgedAt int64
}

// Acknowledged reports whether the supporter has dismissed the notification.
func (n *Notification) Acknowledged() bool {
	return n.AcknowledgedAt != 0
}
