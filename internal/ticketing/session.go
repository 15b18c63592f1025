package ticketing

const (
	methodBank         = "bank"
	methodTelebirr     = "telebirr"
	methodTelebirrAuto = "telebirr_auto"
	methodGnpl         = "gnpl"

	sessionAwaitingReceipt = "awaiting_receipt"
	sessionAwaitingAuto    = "awaiting_auto_payment"
	sessionAwaitingGnpl    = "awaiting_gnpl_approval"
	sessionCompleted       = "completed"
	sessionCancelled       = "cancelled"
)

// InitialSessionStatus maps a payment method to the status a new booking
// session starts in.
func InitialSessionStatus(method string) (string, error) {
	switch method {
	case methodBank, methodTelebirr:
		return sessionAwaitingReceipt, nil
	case methodTelebirrAuto:
		return sessionAwaitingAuto, nil
	case methodGnpl:
		return sessionAwaitingGnpl, nil
	default:
		return "", Invalid("paymentMethod", "unsupported", "unsupported payment method")
	}
}

// IsOpenSession reports whether a session status is non-terminal.
func IsOpenSession(status string) bool {
	switch status {
	case sessionAwaitingReceipt, sessionAwaitingAuto, sessionAwaitingGnpl:
		return true
	default:
		return false
	}
}

// CanTransitionSession reports whether from -> to is allowed. Every open
// status may end as completed or cancelled; terminal statuses never move.
func CanTransitionSession(from, to string) bool {
	if !IsOpenSession(from) {
		return false
	}
	return to == sessionCompleted || to == sessionCancelled
}
