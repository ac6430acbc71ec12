// Package inventory is the HTTP client for the external inventory
// source: JWT bearer login with pre-emptive refresh before the token's
// exp claim passes, parsed via github.com/golang-jwt/jwt/v5 without
// signature verification since this service only ever consumes tokens
// it was itself issued, never validates a peer's.
package inventory

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fleethub/pkg/fleet"
)

// Client fetches the fleet inventory snapshot over HTTPS, handling JWT
// login and refresh transparently.
type Client struct {
	baseURL  string
	username string
	password string

	httpClient *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// New builds a Client. If rootCAPath is non-empty, it is used as the sole
// trusted CA for the inventory connection.
func New(baseURL, username, password, rootCAPath string) (*Client, error) {
	transport := &http.Transport{}
	if rootCAPath != "" {
		pem, err := os.ReadFile(rootCAPath)
		if err != nil {
			return nil, fmt.Errorf("read inventory root CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", rootCAPath)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool}
	}

	return &Client{
		baseURL:    baseURL,
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: 30 * time.Second, Transport: transport},
	}, nil
}

// login performs the multipart-form JWT login.
func (c *Client) login(ctx context.Context) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("username", c.username); err != nil {
		return err
	}
	if err := writer.WriteField("password", c.password); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/jwt/login", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login failed with status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}

	c.mu.Lock()
	c.token = payload.AccessToken
	c.expiresAt = parseExpiry(payload.AccessToken)
	c.mu.Unlock()
	return nil
}

// parseExpiry reads the exp claim without verifying the signature, since
// this service only ever reads back a token it was itself issued.
func parseExpiry(token string) time.Time {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func (c *Client) ensureToken(ctx context.Context) error {
	c.mu.Lock()
	needsLogin := c.token == "" || (!c.expiresAt.IsZero() && time.Now().After(c.expiresAt.Add(-30*time.Second)))
	c.mu.Unlock()
	if needsLogin {
		return c.login(ctx)
	}
	return nil
}

// Fetch retrieves the full inventory snapshot, retrying once after a
// re-login if the token was rejected.
func (c *Client) Fetch(ctx context.Context) (fleet.Inventory, error) {
	if err := c.ensureToken(ctx); err != nil {
		return fleet.Inventory{}, err
	}

	inv, status, err := c.get(ctx)
	if err != nil {
		return fleet.Inventory{}, err
	}
	if status == http.StatusUnauthorized {
		if err := c.login(ctx); err != nil {
			return fleet.Inventory{}, fmt.Errorf("re-login after 401: %w", err)
		}
		inv, status, err = c.get(ctx)
		if err != nil {
			return fleet.Inventory{}, err
		}
	}
	if status != http.StatusOK {
		return fleet.Inventory{}, fmt.Errorf("inventory fetch failed with status %d", status)
	}
	return inv, nil
}

func (c *Client) get(ctx context.Context) (fleet.Inventory, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/", nil)
	if err != nil {
		return fleet.Inventory{}, 0, err
	}
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fleet.Inventory{}, 0, fmt.Errorf("inventory get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fleet.Inventory{}, resp.StatusCode, nil
	}

	var inv fleet.Inventory
	if err := json.NewDecoder(resp.Body).Decode(&inv); err != nil {
		return fleet.Inventory{}, resp.StatusCode, fmt.Errorf("decode inventory: %w", err)
	}
	return inv, resp.StatusCode, nil
}

// FetchRetryIndefinitely retries Fetch with a fixed delay until it
// succeeds or ctx is cancelled.
func (c *Client) FetchRetryIndefinitely(ctx context.Context, delay time.Duration, onError func(error)) (fleet.Inventory, error) {
	for {
		inv, err := c.Fetch(ctx)
		if err == nil {
			return inv, nil
		}
		if onError != nil {
			onError(err)
		}
		select {
		case <-ctx.Done():
			return fleet.Inventory{}, ctx.Err()
		case <-time.After(delay):
		}
	}
}
