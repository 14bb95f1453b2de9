package mailer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/launchkit/template-store/internal/providers"
	"github.com/launchkit/template-store/internal/retry"
)

func TestSendDelivery(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/emails" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer re_test" {
			t.Errorf("Authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	a := New(WithBaseURL(server.URL), WithFrom("Store <store@example.com>"))
	a.SetCredentials(map[string]string{"api_key": "re_test"})

	expires := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	err := a.SendDelivery(context.Background(), Delivery{
		To:            "buyer@example.com",
		CustomerName:  "Ada",
		Package:       "pro",
		LicenseKey:    "PRO-AAAAAA-BBBBBB-CCCC",
		DownloadURL:   "https://store.example.com/download?token=tok",
		SupportTier:   "priority",
		ExpiresAt:     &expires,
		GitHubTeam:    "template-pro",
		AccessGranted: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	if received["from"] != "Store <store@example.com>" {
		t.Errorf("from = %v", received["from"])
	}
	to, _ := received["to"].([]any)
	if len(to) != 1 || to[0] != "buyer@example.com" {
		t.Errorf("to = %v", received["to"])
	}
	if received["subject"] != "Your Pro template is ready" {
		t.Errorf("subject = %v", received["subject"])
	}

	html, _ := received["html"].(string)
	for _, want := range []string{"PRO-AAAAAA-BBBBBB-CCCC", "priority", "template-pro", "June 1, 2026", "Ada"} {
		if !strings.Contains(html, want) {
			t.Errorf("email body missing %q", want)
		}
	}
}

func TestSendDeliveryGrantFailedBranch(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	a := New(WithBaseURL(server.URL))
	a.SetCredentials(map[string]string{"api_key": "re_test"})

	err := a.SendDelivery(context.Background(), Delivery{
		To:            "buyer@example.com",
		Package:       "pro",
		LicenseKey:    "PRO-AAAAAA-BBBBBB-CCCC",
		DownloadURL:   "https://store.example.com/download?token=tok",
		SupportTier:   "priority",
		GitHubTeam:    "template-pro",
		AccessGranted: false,
	})
	if err != nil {
		t.Fatal(err)
	}

	html, _ := received["html"].(string)
	if !strings.Contains(html, "could not complete your repository invitation") {
		t.Error("email body missing manual-fix instructions for failed grant")
	}
	if strings.Contains(html, "You have been invited") {
		t.Error("email body claims an invitation that was not made")
	}
}

func TestSendDeliveryRetriesServerErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	opts := retry.Options{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	a := New(WithBaseURL(server.URL), WithRetryOptions(opts))
	a.SetCredentials(map[string]string{"api_key": "re_test"})

	if err := a.SendDelivery(context.Background(), Delivery{To: "a@b.com", Package: "basic"}); err != nil {
		t.Fatal(err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestSendDeliveryFailsFastOnClientError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	opts := retry.Options{MaxRetries: 3, BaseDelay: time.Millisecond}
	a := New(WithBaseURL(server.URL), WithRetryOptions(opts))
	a.SetCredentials(map[string]string{"api_key": "re_test"})

	if err := a.SendDelivery(context.Background(), Delivery{To: "a@b.com", Package: "basic"}); err == nil {
		t.Fatal("expected error for 422 response")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestSendDeliveryWithoutCredentials(t *testing.T) {
	a := New()
	err := a.SendDelivery(context.Background(), Delivery{To: "a@b.com"})
	if err != providers.ErrNotConfigured {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestEnabled(t *testing.T) {
	a := New()
	if a.Enabled() {
		t.Error("Enabled() = true without api key")
	}
	a.SetCredentials(map[string]string{"api_key": "re_x"})
	if !a.Enabled() {
		t.Error("Enabled() = false with api key")
	}
}
