package availability

import (
	"strings"

	"github.com/slotbook/slotbook/internal/contracts/event"
)

// Decision is the outcome of the admission predicate. Reason is set
// only when Admit is false.
type Decision struct {
	Admit  bool
	Reason string
}

// DecideFunc is the pluggable admission predicate. It must be a pure
// function of the payload: redelivered messages are re-decided and
// must produce the same outcome.
type DecideFunc func(p event.BookingCreatedPayload) Decision

// SuffixRule is the default placeholder rule: a facility id ending in
// the reserved marker is unavailable.
func SuffixRule(p event.BookingCreatedPayload) Decision {
	if strings.HasSuffix(p.FacilityID, "x") {
		return Decision{Admit: false, Reason: "resource_unavailable"}
	}
	return Decision{Admit: true}
}
