package ticketing

import (
	"net/url"
	"testing"
)

const testSessionID = "7f1c2d3e-4a5b-4c6d-8e9f-0a1b2c3d4e5f"

func TestParseCallbackEncodings(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		body        string
		query       url.Values
		wantTx      string
		wantGateway string
		wantPaid    bool
		wantSession string
		wantAmount  int64
	}{
		{
			name:        "telebirr json",
			contentType: "application/json",
			body:        `{"outTradeNo":"TRP-` + testSessionID + `-1780000000","tradeNo":"TB123","tradeStatus":"Completed","totalAmount":"270.00"}`,
			wantTx:      "TRP-" + testSessionID + "-1780000000",
			wantGateway: "TB123",
			wantPaid:    true,
			wantSession: testSessionID,
			wantAmount:  27000,
		},
		{
			name:        "snake case form",
			contentType: "application/x-www-form-urlencoded",
			body:        "transaction_id=TX-9&payment_status=SUCCESS&session_id=" + testSessionID,
			wantTx:      "TX-9",
			wantGateway: "TX-9",
			wantPaid:    true,
			wantSession: testSessionID,
		},
		{
			name:        "nested data object",
			contentType: "application/json",
			body:        `{"code":0,"data":{"merch_order_id":"REF-1","trans_status":"x","status":"PAID","amount":150}}`,
			wantTx:      "REF-1",
			wantPaid:    true,
			wantAmount:  15000,
		},
		{
			name:        "biz_content as json string",
			contentType: "application/json",
			body:        `{"sign":"abc","biz_content":"{\"out_trade_no\":\"REF-2\",\"trade_status\":\"Pending\"}"}`,
			wantTx:      "REF-2",
			wantPaid:    false,
		},
		{
			name:        "return redirect query only",
			contentType: "",
			body:        "",
			query:       url.Values{"reference": {"TRP-" + testSessionID + "-1"}, "status": {"success"}},
			wantTx:      "TRP-" + testSessionID + "-1",
			wantPaid:    true,
			wantSession: testSessionID,
		},
		{
			name:        "failed status",
			contentType: "application/json",
			body:        `{"transactionId":"TX-3","status":"FAILED"}`,
			wantTx:      "TX-3",
			wantGateway: "TX-3",
			wantPaid:    false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cb, err := ParseCallback(tc.contentType, []byte(tc.body), tc.query)
			if err != nil {
				t.Fatalf("ParseCallback(): %v", err)
			}
			if cb.TransactionID != tc.wantTx {
				t.Fatalf("TransactionID = %q, want %q", cb.TransactionID, tc.wantTx)
			}
			if cb.GatewayTxID != tc.wantGateway {
				t.Fatalf("GatewayTxID = %q, want %q", cb.GatewayTxID, tc.wantGateway)
			}
			if cb.Paid != tc.wantPaid {
				t.Fatalf("Paid = %v, want %v (status %q)", cb.Paid, tc.wantPaid, cb.Status)
			}
			if cb.SessionID != tc.wantSession {
				t.Fatalf("SessionID = %q, want %q", cb.SessionID, tc.wantSession)
			}
			if cb.AmountCents != tc.wantAmount {
				t.Fatalf("AmountCents = %d, want %d", cb.AmountCents, tc.wantAmount)
			}
			if cb.Provider != DefaultProvider {
				t.Fatalf("Provider = %q", cb.Provider)
			}
		})
	}
}

func TestParseCallbackPrefersExplicitSession(t *testing.T) {
	other := "11111111-2222-4333-8444-555555555555"
	body := `{"outTradeNo":"TRP-` + testSessionID + `-1","sessionId":"` + other + `","status":"paid","customerId":"42","tripId":"trip-9"}`
	cb, err := ParseCallback("application/json", []byte(body), nil)
	if err != nil {
		t.Fatalf("ParseCallback(): %v", err)
	}
	if cb.SessionID != other {
		t.Fatalf("expected explicit session id, got %s", cb.SessionID)
	}
	if cb.CustomerID != 42 || cb.TripID != "trip-9" {
		t.Fatalf("unexpected customer/trip: %d %s", cb.CustomerID, cb.TripID)
	}
}

func TestParseCallbackRequiresTransaction(t *testing.T) {
	if _, err := ParseCallback("application/json", []byte(`{"status":"paid"}`), nil); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := ParseCallback("application/json", []byte(`{not json`), nil); !IsValidation(err) {
		t.Fatalf("expected validation error for malformed body, got %v", err)
	}
}
