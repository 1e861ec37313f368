package oidcutil

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	coreoidc "github.com/coreos/go-oidc/v3/oidc"

	"callpipe/config"
	"callpipe/logger"
	"callpipe/metrics"
)

// backoff returns the pause after a failed attempt.
var backoff = func(attempt int) time.Duration {
	return time.Duration(math.Min(float64(time.Second*30), float64(time.Second)*math.Pow(2, float64(attempt))))
}

// Init initializes the OIDC provider with backoff and returns a verifier for cfg.ClientID.
func Init(ctx context.Context, cfg config.OIDCConfig) (*coreoidc.IDTokenVerifier, error) {
	p, err := initProviderWithBackoff(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return p.Verifier(&coreoidc.Config{ClientID: cfg.ClientID}), nil
}

// VerifyToken verifies a raw token using the provided verifier and validates audience & expiration.
func VerifyToken(ctx context.Context, verifier *coreoidc.IDTokenVerifier, audience, raw string) (*coreoidc.IDToken, error) {
	tok, err := verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	if audience != "" && !slices.Contains(tok.Audience, audience) {
		return nil, ErrInvalidAudience{Expected: audience, Got: strings.Join(tok.Audience, ",")}
	}
	if tok.Expiry.IsZero() || time.Now().After(tok.Expiry) {
		return nil, ErrTokenExpired{}
	}
	return tok, nil
}

// Verifier checks bearer tokens for the HTTP API.
type Verifier struct {
	verifier *coreoidc.IDTokenVerifier
	audience string
}

func NewVerifier(v *coreoidc.IDTokenVerifier, audience string) *Verifier {
	return &Verifier{verifier: v, audience: audience}
}

func (v *Verifier) Verify(ctx context.Context, raw string) error {
	_, err := VerifyToken(ctx, v.verifier, v.audience, raw)
	return err
}

// Errors

type ErrInvalidAudience struct{ Expected, Got string }

func (e ErrInvalidAudience) Error() string {
	return "invalid audience: expected " + e.Expected + " got " + e.Got
}

type ErrTokenExpired struct{}

func (e ErrTokenExpired) Error() string { return "token expired" }

func initProviderWithBackoff(ctx context.Context, cfg config.OIDCConfig) (*coreoidc.Provider, error) {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	pctx := ctx
	if cfg.CACertFile != "" {
		c := &http.Client{Timeout: 10 * time.Second}
		if err := addCustomCA(c, cfg.CACertFile); err != nil {
			return nil, err
		}
		pctx = coreoidc.ClientContext(ctx, c)
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var provider *coreoidc.Provider
		provider, err = coreoidc.NewProvider(pctx, cfg.IssuerURL)
		if err == nil {
			logger.Info("oidc provider initialized", logger.FieldKV("issuer", cfg.IssuerURL), logger.FieldKV("attempt", attempt))
			metrics.IncOIDCInitSuccess(uint64(attempt))
			return provider, nil
		}
		// Common misconfiguration: https issuer while the endpoint serves plain http
		if strings.Contains(err.Error(), "server gave HTTP response to HTTPS client") {
			logger.Error("oidc issuer scheme mismatch (https expected but endpoint is http)", err,
				logger.FieldKV("issuer", cfg.IssuerURL))
		}
		if attempt == maxAttempts {
			break
		}
		sleep := backoff(attempt)
		logger.Error("oidc provider init failed", err, logger.FieldKV("attempt", attempt), logger.FieldKV("next_sleep", sleep.String()))
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			metrics.IncOIDCInitFailure(uint64(attempt))
			return nil, fmt.Errorf("oidc init canceled after %d attempts: %w", attempt, ctx.Err())
		}
	}

	metrics.IncOIDCInitFailure(uint64(maxAttempts))
	return nil, fmt.Errorf("initialize oidc provider after %d attempts: %w", maxAttempts, err)
}

// addCustomCA loads a PEM bundle from path and sets it as the client's root CAs.
func addCustomCA(c *http.Client, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read oidc ca file: %w", err)
	}
	p := x509.NewCertPool()
	if ok := p.AppendCertsFromPEM(data); !ok {
		return fmt.Errorf("no certs found in oidc ca file %s", path)
	}
	tr, _ := c.Transport.(*http.Transport)
	if tr == nil {
		tr = &http.Transport{Proxy: http.ProxyFromEnvironment}
	}
	tr.TLSClientConfig = &tls.Config{RootCAs: p, MinVersion: tls.VersionTLS12}
	c.Transport = tr
	logger.Info("custom CA trust added for OIDC", logger.FieldKV("path", path))
	return nil
}
