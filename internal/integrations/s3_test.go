package integrations

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/config"
)

func TestPresignUpload(t *testing.T) {
	client, err := NewS3(context.Background(), config.S3Config{
		Endpoint:  "minio:9000",
		Bucket:    "evidence",
		AccessKey: "key",
		SecretKey: "secret",
		UseSSL:    false,
	})
	if err != nil {
		t.Fatalf("NewS3() error = %v", err)
	}
	client.now = func() time.Time { return time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC) }

	url, key, err := client.PresignUpload(context.Background(), ScopeReceipt, 42, "my receipt (1).jpg", "image/jpeg")
	if err != nil {
		t.Fatalf("PresignUpload() error = %v", err)
	}
	if !strings.HasPrefix(key, "evidence/receipts/42/2026/04/") || !strings.HasSuffix(key, "-my-receipt-1-.jpg") {
		t.Fatalf("key = %q", key)
	}
	if !strings.HasPrefix(url, "http://minio:9000/evidence/") || !strings.Contains(url, "X-Amz-Signature") {
		t.Fatalf("url = %q", url)
	}
	if !KeyOwnedBy(key, ScopeReceipt, 42) {
		t.Fatalf("key should belong to customer 42")
	}
	if KeyOwnedBy(key, ScopeReceipt, 4) || KeyOwnedBy(key, ScopeIDDocument, 42) {
		t.Fatalf("key ownership leaked across customers or scopes")
	}
	if _, _, err := client.PresignUpload(context.Background(), "avatars", 42, "a.png", "image/png"); err == nil {
		t.Fatalf("unknown scope should fail")
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	cases := []struct {
		in   string
		ssl  bool
		want string
	}{
		{"", true, ""},
		{"s3.example.com", true, "https://s3.example.com"},
		{"minio:9000", false, "http://minio:9000"},
		{"http://already", true, "http://already"},
	}
	for _, tc := range cases {
		if got := normalizeEndpoint(tc.in, tc.ssl); got != tc.want {
			t.Fatalf("normalizeEndpoint(%q, %v) = %q, want %q", tc.in, tc.ssl, got, tc.want)
		}
	}
}
