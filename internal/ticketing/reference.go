package ticketing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	gatewayRefPrefix = "TRP"
	manualRefPrefix  = "MAN"
	gnplRefPrefix    = "GNPL"
)

var uuidPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// FormatTicketNumber renders a ticket's serial as the number printed on
// the ticket and echoed back to confirm a rollback.
func FormatTicketNumber(serial int64) string {
	return fmt.Sprintf("TKT-%07d", serial)
}

// GatewayReference is the merchant reference sent to the payment gateway.
// The session id is embedded so the callback can find the session even
// when the gateway drops custom fields.
func GatewayReference(sessionID string, now time.Time) string {
	return gatewayRefPrefix + "-" + sessionID + "-" + strconv.FormatInt(now.UTC().Unix(), 10)
}

// ManualReference builds a reference for a manually submitted receipt
// when the customer did not supply a usable one.
func ManualReference(now time.Time) string {
	short := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
	return manualRefPrefix + "-" + now.UTC().Format("20060102") + "-" + short
}

// GnplReference is the receipt reference for a deferred-payment account.
func GnplReference(accountID string) string {
	return gnplRefPrefix + "-" + accountID
}

// SessionIDFromReference pulls the first UUID out of a transaction
// reference.
func SessionIDFromReference(ref string) (string, bool) {
	match := uuidPattern.FindString(ref)
	if match == "" {
		return "", false
	}
	parsed, err := uuid.Parse(match)
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}

// NormalizeReference trims a payer-supplied reference and upper-cases it.
func NormalizeReference(ref string) string {
	return strings.ToUpper(strings.Join(strings.Fields(ref), ""))
}

var phoneDigits = regexp.MustCompile(`^\d+$`)

// NormalizePhone accepts Ethiopian mobile numbers in local (09..., 07...)
// or international (+2519..., 2517...) form and returns +251XXXXXXXXX.
func NormalizePhone(raw string) (string, error) {
	s := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "+")
	switch {
	case strings.HasPrefix(s, "251"):
		s = s[3:]
	case strings.HasPrefix(s, "0"):
		s = s[1:]
	}
	if len(s) != 9 || !phoneDigits.MatchString(s) || (s[0] != '9' && s[0] != '7') {
		return "", Invalid("phone", "malformed", "phone number must be an Ethiopian mobile number")
	}
	return "+251" + s, nil
}
