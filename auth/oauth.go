package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Profile is the identity a third-party OAuth provider reports for an
// exchanged authorization code.
type Profile struct {
	OpenID   string `json:"openId"`
	UnionID  string `json:"unionId"`
	Phone    string `json:"mobile"`
	Nickname string `json:"nick"`
}

// Exchanger swaps an authorization code for the provider profile.
type Exchanger interface {
	Exchange(ctx context.Context, code string) (*Profile, error)
}

// OAuthConfig configures the third-party code exchange.
type OAuthConfig struct {
	ClientID     string        `long:"client-id" env:"CLIENT_ID" description:"OAuth client id"`
	ClientSecret string        `long:"client-secret" env:"CLIENT_SECRET" description:"OAuth client secret"`
	TokenURL     string        `long:"token-url" env:"TOKEN_URL" default:"https://api.dingtalk.com/v1.0/oauth2/userAccessToken" description:"OAuth token endpoint"`
	ProfileURL   string        `long:"profile-url" env:"PROFILE_URL" default:"https://api.dingtalk.com/v1.0/contact/users/me" description:"Profile endpoint queried with the exchanged token"`
	Timeout      time.Duration `long:"timeout" env:"TIMEOUT" default:"10s" description:"Deadline of a whole code exchange"`
}

// Enabled reports whether the provider is configured.
func (c OAuthConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// OAuthExchanger runs the standard OAuth2 authorization-code flow and
// fetches the provider profile with the minted token.
type OAuthExchanger struct {
	conf       *oauth2.Config
	profileURL string
	timeout    time.Duration
}

// NewOAuthExchanger builds an exchanger from configuration.
func NewOAuthExchanger(cfg OAuthConfig) *OAuthExchanger {
	return &OAuthExchanger{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		profileURL: cfg.ProfileURL,
		timeout:    cfg.Timeout,
	}
}

// Exchange swaps |code| for a token and resolves the caller's profile.
func (e *OAuthExchanger) Exchange(ctx context.Context, code string) (*Profile, error) {
	var ctxT, cancel = context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var token, err = e.conf.Exchange(ctxT, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctxT, http.MethodGet, e.profileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building profile request: %w", err)
	}

	var client = oauth2.NewClient(ctxT, e.conf.TokenSource(ctxT, token))
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching provider profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider profile returned %d", resp.StatusCode)
	}

	var profile Profile
	if err = json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decoding provider profile: %w", err)
	}
	return &profile, nil
}
