package integrations

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTelegramSendMessage(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["chat_id"].(float64) != 1001 || body["text"] != "hello" {
			t.Fatalf("body = %#v", body)
		}
		if _, ok := body["reply_markup"]; !ok {
			t.Fatalf("markup missing")
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := NewTelegramClient("TOKEN").WithBaseURL(srv.URL)
	if err := client.SendMessage(context.Background(), 1001, "hello", OpenAppMarkup("Open", "https://app.example")); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
}

func TestTelegramSendPhotoBytes(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if r.FormValue("chat_id") != "55" || r.FormValue("caption") != "TKT-0000001" {
			t.Fatalf("fields = %v", r.MultipartForm.Value)
		}
		f, _, err := r.FormFile("photo")
		if err != nil {
			t.Fatalf("photo: %v", err)
		}
		data, _ := io.ReadAll(f)
		if string(data) != "png" {
			t.Fatalf("photo bytes = %q", data)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := NewTelegramClient("T").WithBaseURL(srv.URL)
	if err := client.SendPhotoBytes(context.Background(), 55, "", []byte("png"), "TKT-0000001"); err != nil {
		t.Fatalf("SendPhotoBytes() error = %v", err)
	}
	if err := client.SendPhotoBytes(context.Background(), 55, "", nil, ""); err == nil {
		t.Fatalf("empty photo should fail")
	}
}

func TestTelegramErrorPermanent(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"ok":false,"description":"bot was blocked by the user"}`))
	}))
	defer srv.Close()

	err := NewTelegramClient("T").WithBaseURL(srv.URL).SendMessage(context.Background(), 1, "x", nil)
	var tgErr *TelegramError
	if !errors.As(err, &tgErr) || !tgErr.Permanent() {
		t.Fatalf("error = %v, want permanent TelegramError", err)
	}
}
