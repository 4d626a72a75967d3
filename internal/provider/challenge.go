package provider

// ChallengeKind identifies the anti-bot verification the provider demands.
type ChallengeKind string

const (
	// ChallengeGeetest is a visual-interactive puzzle solved by a Solver.
	ChallengeGeetest ChallengeKind = "geetest"
	// ChallengePhone is confirmed against the account's bound phone.
	ChallengePhone ChallengeKind = "phone"
	// ChallengeNone means the session was already verified elsewhere.
	ChallengeNone ChallengeKind = "none"
)

// ChallengePayload carries what a solver needs.
type ChallengePayload struct {
	Token     string
	GT        string
	Challenge string
	Phone     string
}

// Challenge is a pending verification descriptor.
type Challenge struct {
	Kind    ChallengeKind
	Payload ChallengePayload
}

// Supported reports whether the workflow knows how to clear this challenge.
func (c Challenge) Supported() bool {
	switch c.Kind {
	case ChallengeGeetest, ChallengePhone, ChallengeNone:
		return true
	default:
		return false
	}
}

// Proof is a solved visual challenge.
type Proof struct {
	Challenge string
	Validate  string
	Seccode   string
}
