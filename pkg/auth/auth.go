// Package auth acquires bearer tokens for the backend API using the OAuth2
// client-credentials grant.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const DefaultAuthority = "https://login.microsoftonline.com"

// ErrTokenAcquisition is wrapped by every token failure.
var ErrTokenAcquisition = errors.New("unable to acquire access token")

// Config configures an Authenticator.
type Config struct {
	Authority    string // Identity provider base URL (default: DefaultAuthority)
	TenantID     string
	ClientID     string
	ClientSecret string
	Audience     string // Application ID of the backend; scope is api://<audience>/.default
}

// TokenURL returns <authority>/<tenant>/oauth2/v2.0/token.
func (c Config) TokenURL() string {
	authority := c.Authority
	if authority == "" {
		authority = DefaultAuthority
	}
	return strings.TrimRight(authority, "/") + "/" + c.TenantID + "/oauth2/v2.0/token"
}

// Scope returns the single scope requested for the backend.
func (c Config) Scope() string {
	return "api://" + c.Audience + "/.default"
}

// Authenticator hands out cached access tokens and refreshes them on expiry.
type Authenticator struct {
	tokenURL string
	source   oauth2.TokenSource
	logger   hclog.Logger
}

func New(cfg Config, logger hclog.Logger) *Authenticator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL(),
		Scopes:       []string{cfg.Scope()},
	}
	a := &Authenticator{
		tokenURL: cc.TokenURL,
		logger:   logger.Named("auth"),
	}
	// The token source outlives any single request.
	a.source = oauth2.ReuseTokenSource(nil, &loggingSource{
		src:    cc.TokenSource(context.Background()),
		logger: a.logger,
	})
	return a
}

// Token returns a valid bearer token, fetching a new one only when the
// cached token has expired.
func (a *Authenticator) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenAcquisition, err)
	}
	tok, err := a.source.Token()
	if err != nil {
		a.logger.Error("error acquiring access token", "token_url", a.tokenURL, "error", err)
		return "", fmt.Errorf("%w: %w", ErrTokenAcquisition, err)
	}
	return tok.AccessToken, nil
}

// loggingSource logs the claims of every freshly fetched token.
type loggingSource struct {
	src    oauth2.TokenSource
	logger hclog.Logger
}

func (s *loggingSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	logClaims(s.logger, tok.AccessToken)
	return tok, nil
}

// logClaims logs who the token was issued to. The signature is not checked;
// this is diagnostics only.
func logClaims(logger hclog.Logger, raw string) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		logger.Debug("access token is not a JWT", "error", err)
		return
	}

	args := []interface{}{}
	if aud, err := claims.GetAudience(); err == nil && len(aud) > 0 {
		args = append(args, "audience", strings.Join(aud, ","))
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		args = append(args, "expires", exp.Time)
	}
	for _, key := range []string{"appid", "azp", "roles"} {
		if v, ok := claims[key]; ok {
			args = append(args, key, v)
		}
	}
	logger.Debug("acquired access token", args...)
}

// Static is a fixed bearer token.
type Static string

func (s Static) Token(ctx context.Context) (string, error) {
	return string(s), nil
}
