package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	ternary "github.com/julien040/go-ternary"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const defaultHTTPTimeout = 10 * time.Second

var (
	errMissingClientID    = errors.New("provider: client id required")
	errMissingSecret      = errors.New("provider: client secret required")
	errMissingRedirectURL = errors.New("provider: redirect url required")
	errMissingAuthURL     = errors.New("provider: authorization url required")
	errMissingTokenURL    = errors.New("provider: token url required")
	errMissingProfileURL  = errors.New("provider: profile url required")

	errMissingAccessToken = errors.New("provider: token response missing access token")
	errMissingUserID      = errors.New("provider: token response missing user id")
	errEmptyProfile       = errors.New("provider: profile response contained no entries")
	errIncompleteProfile  = errors.New("provider: profile entry missing required fields")
)

// Config bundles the OAuth application credentials and provider endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	ProfileURL   string
	Scope        string
	APIVersion   string
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// Credentials is the outcome of a successful authorization-code exchange.
type Credentials struct {
	AccessToken string
	ExternalID  string
}

// Profile carries the display attributes returned by the provider profile endpoint.
type Profile struct {
	ExternalID string
	FirstName  string
	LastName   string
}

// Client performs the outbound half of the login flow: authorization URL
// construction, code-for-token exchange, and profile retrieval.
type Client struct {
	oauth      oauth2.Config
	profileURL string
	apiVersion string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a provider client with validated configuration.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errMissingClientID
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errMissingSecret
	}
	if strings.TrimSpace(cfg.RedirectURL) == "" {
		return nil, errMissingRedirectURL
	}
	if strings.TrimSpace(cfg.AuthURL) == "" {
		return nil, errMissingAuthURL
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, errMissingTokenURL
	}
	if strings.TrimSpace(cfg.ProfileURL) == "" {
		return nil, errMissingProfileURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	scopes := []string{}
	if scope := strings.TrimSpace(cfg.Scope); scope != "" {
		scopes = strings.Fields(scope)
	}

	return &Client{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		profileURL: cfg.ProfileURL,
		apiVersion: strings.TrimSpace(cfg.APIVersion),
		httpClient: httpClient,
		logger:     ternary.If(cfg.Logger != nil, cfg.Logger, zap.NewNop()),
	}, nil
}

// AuthCodeURL builds the authorization redirect carrying the anti-forgery state.
func (c *Client) AuthCodeURL(state string) string {
	opts := []oauth2.AuthCodeOption{}
	if c.apiVersion != "" {
		opts = append(opts, oauth2.SetAuthURLParam("v", c.apiVersion))
	}
	return c.oauth.AuthCodeURL(state, opts...)
}

// ExchangeCode trades the callback authorization code for provider credentials.
// Both the access token and the external user identifier must be present.
func (c *Client) ExchangeCode(ctx context.Context, code string) (Credentials, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return Credentials{}, fmt.Errorf("provider: exchange code: %w", err)
	}
	if token.AccessToken == "" {
		return Credentials{}, errMissingAccessToken
	}
	externalID := externalIDFromToken(token)
	if externalID == "" {
		return Credentials{}, errMissingUserID
	}
	return Credentials{AccessToken: token.AccessToken, ExternalID: externalID}, nil
}

// FetchProfile retrieves the provider profile for the supplied access token.
// First name, last name, and the external id are all required.
func (c *Client) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	reqURL, err := c.buildProfileURL(accessToken)
	if err != nil {
		return Profile{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("provider: build profile request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("provider: profile request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Debug("profile endpoint rejected request",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return Profile{}, fmt.Errorf("provider: profile request returned status %d", resp.StatusCode)
	}

	var envelope profileEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return Profile{}, fmt.Errorf("provider: decode profile response: %w", err)
	}
	if len(envelope.Response) == 0 {
		return Profile{}, errEmptyProfile
	}

	entry := envelope.Response[0]
	profile := Profile{
		ExternalID: entry.UID.String(),
		FirstName:  strings.TrimSpace(entry.FirstName),
		LastName:   strings.TrimSpace(entry.LastName),
	}
	if entry.UID.String() == "" || profile.FirstName == "" || profile.LastName == "" {
		return Profile{}, errIncompleteProfile
	}
	return profile, nil
}

func (c *Client) buildProfileURL(accessToken string) (string, error) {
	parsed, err := url.Parse(c.profileURL)
	if err != nil {
		return "", fmt.Errorf("provider: parse profile url: %w", err)
	}
	query := parsed.Query()
	query.Set("access_token", accessToken)
	query.Set("fields", "uid,first_name,last_name")
	if c.apiVersion != "" {
		query.Set("v", c.apiVersion)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

type profileEnvelope struct {
	Response []profileEntry `json:"response"`
}

type profileEntry struct {
	UID       json.Number `json:"uid"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
}

func externalIDFromToken(token *oauth2.Token) string {
	switch value := token.Extra("user_id").(type) {
	case string:
		return strings.TrimSpace(value)
	case json.Number:
		return value.String()
	case float64:
		return strconv.FormatInt(int64(value), 10)
	case int64:
		return strconv.FormatInt(value, 10)
	default:
		return ""
	}
}
