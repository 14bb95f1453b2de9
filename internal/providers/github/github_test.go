package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/launchkit/template-store/internal/database"
	"github.com/launchkit/template-store/internal/retry"
)

func TestNormalizeUsername(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"BuyerDev", "buyerdev"},
		{"@BuyerDev", "buyerdev"},
		{"  @Some-User  ", "some-user"},
		{"", ""},
		{"@", ""},
	}
	for _, tt := range tests {
		if got := NormalizeUsername(tt.in); got != tt.want {
			t.Errorf("NormalizeUsername(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEnabledAndTeamForTier(t *testing.T) {
	a := New()
	if a.Enabled() {
		t.Error("Enabled() = true without credentials")
	}

	a.SetCredentials(map[string]string{
		"token":           "ghp_x",
		"org":             "launchkit",
		"team_pro":        "template-pro",
		"team_enterprise": "template-enterprise",
	})
	if !a.Enabled() {
		t.Error("Enabled() = false with token and org set")
	}

	if got := a.TeamForTier(database.TierPro); got != "template-pro" {
		t.Errorf("TeamForTier(pro) = %q", got)
	}
	if got := a.TeamForTier(database.TierEnterprise); got != "template-enterprise" {
		t.Errorf("TeamForTier(enterprise) = %q", got)
	}
	if got := a.TeamForTier(database.TierBasic); got != "" {
		t.Errorf("TeamForTier(basic) = %q, want empty", got)
	}
}

func newTestAdapter(serverURL string) *Adapter {
	a := New(
		WithAPIBaseURL(serverURL),
		WithRetryOptions(retry.Options{MaxRetries: 0}),
	)
	a.SetCredentials(map[string]string{
		"token":           "ghp_test",
		"org":             "launchkit",
		"team_pro":        "template-pro",
		"team_enterprise": "template-enterprise",
	})
	return a
}

func TestGrantInvitesNewMember(t *testing.T) {
	var added int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := "/orgs/launchkit/teams/template-pro/memberships/ada"
		if r.URL.Path != path {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case http.MethodGet:
			http.NotFound(w, r)
		case http.MethodPut:
			added++
			json.NewEncoder(w).Encode(map[string]string{"state": "pending", "role": "member"})
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	}))
	defer server.Close()

	a := newTestAdapter(server.URL)
	team, err := a.Grant(context.Background(), "ada", database.TierPro)
	if err != nil {
		t.Fatal(err)
	}
	if team != "template-pro" {
		t.Errorf("team = %q, want template-pro", team)
	}
	if added != 1 {
		t.Errorf("add calls = %d, want 1", added)
	}
}

func TestGrantIsIdempotentForExistingMember(t *testing.T) {
	var added int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]string{"state": "active", "role": "member"})
		case http.MethodPut:
			added++
			json.NewEncoder(w).Encode(map[string]string{"state": "active"})
		}
	}))
	defer server.Close()

	a := newTestAdapter(server.URL)
	team, err := a.Grant(context.Background(), "ada", database.TierPro)
	if err != nil {
		t.Fatal(err)
	}
	if team != "template-pro" {
		t.Errorf("team = %q", team)
	}
	if added != 0 {
		t.Errorf("add calls = %d, want 0 for existing member", added)
	}
}

func TestGrantBasicTierIsNoOp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected API call %s %s", r.Method, r.URL.Path)
	}))
	defer server.Close()

	a := newTestAdapter(server.URL)
	team, err := a.Grant(context.Background(), "ada", database.TierBasic)
	if err != nil {
		t.Fatal(err)
	}
	if team != "" {
		t.Errorf("team = %q, want empty for basic", team)
	}
}

func TestGrantWithoutCredentials(t *testing.T) {
	a := New()
	if _, err := a.Grant(context.Background(), "ada", database.TierPro); err == nil {
		t.Error("Grant without credentials succeeded")
	}
}
