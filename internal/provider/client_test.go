package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func newTestClient(t *testing.T, authURL, tokenURL, profileURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RedirectURL:  "https://app.example/auth/callback",
		AuthURL:      authURL,
		TokenURL:     tokenURL,
		ProfileURL:   profileURL,
		Scope:        "offline",
		APIVersion:   "5.131",
	})
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	return client
}

func TestAuthCodeURLCarriesProtocolParameters(t *testing.T) {
	client := newTestClient(t, "https://provider.example/authorize", "https://provider.example/token", "https://provider.example/profile")

	rawURL := client.AuthCodeURL("state-123")
	parsed, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("failed to parse auth url: %v", err)
	}

	query := parsed.Query()
	expectations := map[string]string{
		"client_id":     "client-1",
		"redirect_uri":  "https://app.example/auth/callback",
		"response_type": "code",
		"state":         "state-123",
		"scope":         "offline",
		"v":             "5.131",
	}
	for key, want := range expectations {
		if got := query.Get(key); got != want {
			t.Fatalf("expected %s=%q, got %q (url %q)", key, want, got, rawURL)
		}
	}
}

func TestExchangeCodeReturnsCredentials(t *testing.T) {
	var form url.Values
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse token form: %v", err)
		}
		form = r.Form
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"t1","user_id":7,"expires_in":86400}`))
	}))
	defer tokenServer.Close()

	client := newTestClient(t, "https://provider.example/authorize", tokenServer.URL, "https://provider.example/profile")

	credentials, err := client.ExchangeCode(context.Background(), "c1")
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
	if credentials.AccessToken != "t1" {
		t.Fatalf("unexpected access token %q", credentials.AccessToken)
	}
	if credentials.ExternalID != "7" {
		t.Fatalf("unexpected external id %q", credentials.ExternalID)
	}

	for _, key := range []string{"client_id", "client_secret", "code", "redirect_uri"} {
		if form.Get(key) == "" {
			t.Fatalf("expected %s in token request form, got %v", key, form)
		}
	}
	if form.Get("code") != "c1" {
		t.Fatalf("unexpected code %q", form.Get("code"))
	}
}

func TestExchangeCodeRequiresUserID(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"t1","expires_in":86400}`))
	}))
	defer tokenServer.Close()

	client := newTestClient(t, "https://provider.example/authorize", tokenServer.URL, "https://provider.example/profile")

	_, err := client.ExchangeCode(context.Background(), "c1")
	if !errors.Is(err, errMissingUserID) {
		t.Fatalf("expected missing user id error, got %v", err)
	}
}

func TestExchangeCodeSurfacesProviderRejection(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer tokenServer.Close()

	client := newTestClient(t, "https://provider.example/authorize", tokenServer.URL, "https://provider.example/profile")

	if _, err := client.ExchangeCode(context.Background(), "c1"); err == nil {
		t.Fatalf("expected error for rejected exchange")
	}
}

func TestFetchProfileReturnsDisplayAttributes(t *testing.T) {
	profileServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("access_token"); got != "t1" {
			t.Errorf("expected access_token t1, got %q", got)
		}
		if got := r.URL.Query().Get("v"); got != "5.131" {
			t.Errorf("expected api version param, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":[{"uid":7,"first_name":"Ana","last_name":"Li"}]}`))
	}))
	defer profileServer.Close()

	client := newTestClient(t, "https://provider.example/authorize", "https://provider.example/token", profileServer.URL)

	profile, err := client.FetchProfile(context.Background(), "t1")
	if err != nil {
		t.Fatalf("profile fetch failed: %v", err)
	}
	if profile.ExternalID != "7" || profile.FirstName != "Ana" || profile.LastName != "Li" {
		t.Fatalf("unexpected profile %+v", profile)
	}
}

func TestFetchProfileRejectsIncompleteEntries(t *testing.T) {
	cases := []struct {
		name string
		body string
		want error
	}{
		{name: "empty response", body: `{"response":[]}`, want: errEmptyProfile},
		{name: "missing last name", body: `{"response":[{"uid":7,"first_name":"Ana"}]}`, want: errIncompleteProfile},
		{name: "missing first name", body: `{"response":[{"uid":7,"last_name":"Li"}]}`, want: errIncompleteProfile},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			profileServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tc.body))
			}))
			defer profileServer.Close()

			client := newTestClient(t, "https://provider.example/authorize", "https://provider.example/token", profileServer.URL)

			_, err := client.FetchProfile(context.Background(), "t1")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestFetchProfileRejectsNonOKStatus(t *testing.T) {
	profileServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer profileServer.Close()

	client := newTestClient(t, "https://provider.example/authorize", "https://provider.example/token", profileServer.URL)

	if _, err := client.FetchProfile(context.Background(), "t1"); err == nil {
		t.Fatalf("expected error for non-200 profile response")
	}
}

func TestNewClientValidatesConfiguration(t *testing.T) {
	base := Config{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RedirectURL:  "https://app.example/auth/callback",
		AuthURL:      "https://provider.example/authorize",
		TokenURL:     "https://provider.example/token",
		ProfileURL:   "https://provider.example/profile",
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing client id", mutate: func(c *Config) { c.ClientID = "" }},
		{name: "missing secret", mutate: func(c *Config) { c.ClientSecret = " " }},
		{name: "missing redirect", mutate: func(c *Config) { c.RedirectURL = "" }},
		{name: "missing auth url", mutate: func(c *Config) { c.AuthURL = "" }},
		{name: "missing token url", mutate: func(c *Config) { c.TokenURL = "" }},
		{name: "missing profile url", mutate: func(c *Config) { c.ProfileURL = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			if _, err := NewClient(cfg); err == nil {
				t.Fatalf("expected constructor error")
			}
		})
	}
}
