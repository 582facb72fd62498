package agentbrowser

import (
	"context"
	"encoding/json"
	"time"
)

// Session is a live browser context on the agent-browser service.
type Session struct {
	Handle    string
	ExpiresAt time.Time
}

// CheckoutRequest describes one purchase attempt for the remote agent. The
// strategy selects the instruction set the agent follows.
type CheckoutRequest struct {
	Strategy      string          `json:"strategy"`
	ProductRef    string          `json:"product_ref"`
	PriceCapCents *int64          `json:"price_cap_cents,omitempty"`
	Address       *Address        `json:"address,omitempty"`
	Constraints   json.RawMessage `json:"constraints,omitempty"`
}

// Address is the shipping destination sent to the agent.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// CheckoutResult is the agent's terminal report for one attempt.
//
// Completed and NeedsHuman are mutually exclusive. When NeedsHuman is set the
// session stays open so a person can finish the flow by hand.
type CheckoutResult struct {
	Completed        bool            `json:"completed"`
	NeedsHuman       bool            `json:"needs_human"`
	ExternalOrderRef string          `json:"external_order_ref,omitempty"`
	Merchant         string          `json:"merchant,omitempty"`
	PriceCents       int64           `json:"price_cents,omitempty"`
	Receipt          json.RawMessage `json:"receipt,omitempty"`
	Reason           string          `json:"reason,omitempty"`
}

// Capability is the remote browsing service the checkout orchestrator drives.
type Capability interface {
	OpenSession(ctx context.Context) (Session, error)
	ExecuteCheckout(ctx context.Context, handle string, req CheckoutRequest) (CheckoutResult, error)
	CloseSession(ctx context.Context, handle string) error
}
