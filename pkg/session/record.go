// Package session defines the durable conversation record and its SQLite store.
package session

import (
	"time"
)

// Mode identifies which dialogue policy owns the next turn.
type Mode string

const (
	ModeIntake  Mode = "INTAKE"
	ModeLLC     Mode = "LLC"
	ModeCorp    Mode = "CORP"
	ModePayment Mode = "PAYMENT"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeIntake, ModeLLC, ModeCorp, ModePayment:
		return true
	}
	return false
}

// IsFormation reports whether m is an entity-formation mode.
func (m Mode) IsFormation() bool {
	return m == ModeLLC || m == ModeCorp
}

// Captured field names. Base fields describe the person and the business
// independent of entity type; structural fields belong to one formation mode.
const (
	FieldUserName        = "userName"
	FieldUserEmail       = "userEmail"
	FieldUserPhone       = "userPhone"
	FieldBusinessName    = "businessName"
	FieldBusinessPurpose = "businessPurpose"
	FieldBusinessState   = "businessState"

	// Structural fields, purged on entity-type switch.
	FieldEntitySubtype    = "entitySubtype" // "C-Corp" | "S-Corp", CORP mode only
	FieldDesignator       = "designator"
	FieldGovernance       = "governance" // member-managed | manager-managed, LLC only
	FieldRegisteredAgent  = "registeredAgent"
	FieldVirtualAddress   = "virtualAddress"
	FieldAuthorizedShares = "authorizedShares" // CORP only
	FieldParValue         = "parValue"         // CORP only
)

// baseFields survive an entity-type switch.
var baseFields = map[string]bool{
	FieldUserName:        true,
	FieldUserEmail:       true,
	FieldUserPhone:       true,
	FieldBusinessName:    true,
	FieldBusinessPurpose: true,
	FieldBusinessState:   true,
}

// IsBaseField reports whether a captured field survives an entity-type switch.
func IsBaseField(name string) bool {
	return baseFields[name]
}

// Completion flag names. The payment gate checks flags, never raw field data.
const (
	FlagIdentityCaptured   = "identityCaptured"
	FlagVerificationPassed = "verificationPassed"

	// Per-mode structural flags, purged on entity-type switch.
	FlagDesignatorSet       = "designatorSet"
	FlagGovernanceSet       = "governanceSet"
	FlagRegisteredAgentSet  = "registeredAgentSet"
	FlagVirtualAddressSet   = "virtualAddressSet"
	FlagAuthorizedSharesSet = "authorizedSharesSet"
)

// baseFlags survive an entity-type switch alongside base fields.
var baseFlags = map[string]bool{
	FlagIdentityCaptured:   true,
	FlagVerificationPassed: true,
}

// IsBaseFlag reports whether a completion flag survives an entity-type switch.
func IsBaseFlag(name string) bool {
	return baseFlags[name]
}

// Verification state machine values.
const (
	VerificationUnsent   = "UNSENT"
	VerificationSent     = "SENT"
	VerificationVerified = "VERIFIED"
)

// Verification is the email ownership sub-record. The code itself is never
// stored, only a salted digest.
type Verification struct {
	Target       string    `json:"target,omitempty"`
	State        string    `json:"state"`
	CodeDigest   string    `json:"code_digest,omitempty"`
	Salt         string    `json:"salt,omitempty"`
	IssuedAt     time.Time `json:"issued_at,omitzero"`
	AttemptCount int       `json:"attempt_count"`
	ResendCount  int       `json:"resend_count"`
	WindowStart  time.Time `json:"window_start,omitzero"`
	Verified     bool      `json:"verified"`
}

// Payment is the checkout sub-record for the current payment attempt.
type Payment struct {
	CheckoutID     string    `json:"checkout_id"`
	CheckoutURL    string    `json:"checkout_url,omitempty"`
	Plan           string    `json:"plan,omitempty"`
	BillingCycle   string    `json:"billing_cycle,omitempty"`
	PlanPriceCents int64     `json:"plan_price_cents,omitempty"`
	StateFeeCents  int64     `json:"state_fee_cents,omitempty"`
	TotalDueCents  int64     `json:"total_due_cents,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitzero"`
}

// Turn is one transcript entry.
type Turn struct {
	At      time.Time `json:"at"`
	Role    string    `json:"role"` // user | assistant
	Content string    `json:"content"`
	Policy  string    `json:"policy,omitempty"`
}

// Record is the full durable state of one conversation.
type Record struct {
	ConversationID  string            `json:"conversation_id"`
	Mode            Mode              `json:"mode"`
	OriginMode      Mode              `json:"origin_mode,omitempty"` // formation mode active when payment began
	SwitchCount     int               `json:"switch_count"`
	ReadyToPay      bool              `json:"ready_to_pay"`      // one-shot confirmation token
	AwaitingPayment bool              `json:"awaiting_payment"`  // checkout issued, completion not yet observed
	CapturedFields  map[string]string `json:"captured_fields"`
	CompletionFlags map[string]bool   `json:"completion_flags"`
	Verification    Verification      `json:"verification"`
	Payment         *Payment          `json:"payment,omitempty"`
	Transcript      []Turn            `json:"transcript"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// NewRecord returns a fresh conversation record in intake mode.
func NewRecord(conversationID string) *Record {
	now := time.Now().UTC()
	return &Record{
		ConversationID:  conversationID,
		Mode:            ModeIntake,
		CapturedFields:  make(map[string]string),
		CompletionFlags: make(map[string]bool),
		Verification:    Verification{State: VerificationUnsent},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// SetField records a captured field. Once all six base fields are present the
// identity flag flips on; it is never flipped back off here.
func (r *Record) SetField(name, value string) {
	if r.CapturedFields == nil {
		r.CapturedFields = make(map[string]string)
	}
	r.CapturedFields[name] = value

	for f := range baseFields {
		if r.CapturedFields[f] == "" {
			return
		}
	}
	r.SetFlag(FlagIdentityCaptured, true)
}

// Field returns a captured field value, or "" when absent.
func (r *Record) Field(name string) string {
	return r.CapturedFields[name]
}

// SetFlag records a completion flag.
func (r *Record) SetFlag(name string, v bool) {
	if r.CompletionFlags == nil {
		r.CompletionFlags = make(map[string]bool)
	}
	r.CompletionFlags[name] = v
}

// Flag returns a completion flag value.
func (r *Record) Flag(name string) bool {
	return r.CompletionFlags[name]
}

// PurgeStructural removes every non-base captured field and completion flag.
// Called on entity-type switch so no stale structural data leaks across modes.
func (r *Record) PurgeStructural() {
	for k := range r.CapturedFields {
		if !baseFields[k] {
			delete(r.CapturedFields, k)
		}
	}
	for k := range r.CompletionFlags {
		if !baseFlags[k] {
			delete(r.CompletionFlags, k)
		}
	}
}

// AppendTurn adds a transcript entry.
func (r *Record) AppendTurn(role, content, policy string) {
	r.Transcript = append(r.Transcript, Turn{
		At:      time.Now().UTC(),
		Role:    role,
		Content: content,
		Policy:  policy,
	})
}

// Clone returns a deep copy. Used for async snapshots so background readers
// never alias live mutable state.
func (r *Record) Clone() *Record {
	cp := *r
	cp.CapturedFields = make(map[string]string, len(r.CapturedFields))
	for k, v := range r.CapturedFields {
		cp.CapturedFields[k] = v
	}
	cp.CompletionFlags = make(map[string]bool, len(r.CompletionFlags))
	for k, v := range r.CompletionFlags {
		cp.CompletionFlags[k] = v
	}
	if r.Payment != nil {
		p := *r.Payment
		cp.Payment = &p
	}
	cp.Transcript = make([]Turn, len(r.Transcript))
	copy(cp.Transcript, r.Transcript)
	return &cp
}
