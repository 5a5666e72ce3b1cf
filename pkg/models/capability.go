package models

// TokenKind identifies which credential class a capability binds to.
type TokenKind string

const (
	KindBot  TokenKind = "bot"
	KindUser TokenKind = "user"
)

// CapabilityScope is one entry of the closed capability catalog.
type CapabilityScope struct {
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Kind        TokenKind `json:"kind"`
	Description string    `json:"description"`
	RequiredFor []string  `json:"required_for,omitempty"` // feature tags
}

// EnforcementLevel is the runtime permission policy.
type EnforcementLevel int

const (
	// EnforceStrict blocks operations missing a required capability.
	EnforceStrict EnforcementLevel = iota
	// EnforceLenient logs missing capabilities but allows the operation.
	EnforceLenient
	// EnforceDisabled skips permission checks entirely.
	EnforceDisabled
)

func (l EnforcementLevel) String() string {
	switch l {
	case EnforceStrict:
		return "strict"
	case EnforceLenient:
		return "lenient"
	case EnforceDisabled:
		return "disabled"
	}
	return "unknown"
}

// PermissionDecision is the result of one capability check. Missing
// holds requested capabilities absent from the granted set; Valid is
// true when Missing is empty.
type PermissionDecision struct {
	Requested []string
	Granted   []string
	Missing   []string
	Valid     bool

	// Method and Kind are set for CheckForAPI decisions.
	Method string
	Kind   TokenKind

	// Allowed reports whether the operation may proceed under the
	// enforcement level in effect when the check ran. Under lenient or
	// disabled policy it can be true even when Valid is false.
	Allowed bool
}
