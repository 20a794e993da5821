package tradeguard

// Kind is a machine-readable TradeGuard rejection code (spec §4.4, §7:
// "TradeGuardError and its kin should be modeled as a result-sum-type").
type Kind string

const (
	BlockedToken         Kind = "BLOCKED_TOKEN"
	SlippageTooLow       Kind = "SLIPPAGE_TOO_LOW"
	SlippageTooHigh      Kind = "SLIPPAGE_TOO_HIGH"
	TradeSizeExceeded    Kind = "TRADE_SIZE_EXCEEDED"
	DailyLimitExceeded   Kind = "DAILY_LIMIT_EXCEEDED"
	TradeCooldown        Kind = "TRADE_COOLDOWN"
	InvalidConfirmation  Kind = "INVALID_CONFIRMATION"
	ConfirmationExpired  Kind = "CONFIRMATION_EXPIRED"
	FreezeAuthorityActive Kind = "FREEZE_AUTHORITY_ACTIVE"
	MintNotRenounced     Kind = "MINT_NOT_RENOUNCED"
	RugDetected          Kind = "RUG_DETECTED"
	NoSocials            Kind = "NO_SOCIALS"
)

// Error is every rejection TradeGuard can return: a machine-readable Kind
// plus a human-readable message (spec §7: "every rejection carries a
// machine-readable code and a human-readable message").
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func newErr(k Kind, msg string) *Error {
	return &Error{Kind: k, Message: msg}
}

// Is supports errors.Is(err, &tradeguard.Error{Kind: tradeguard.BlockedToken})
// style checks by comparing Kind, matching the "result-sum-type" classification spec §7
// and §9 ask for.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}
