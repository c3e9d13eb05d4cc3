// Package sms delivers verification codes to phones through an SMS
// gateway, asynchronously and with retries.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"shop-auth/internal/util"
)

// Channel sends one SMS message. Implementations must be safe for
// concurrent use by the dispatcher workers.
type Channel interface {
	Send(ctx context.Context, phone, message string) error
}

// GatewayChannel speaks the Eskiz-style HTTP gateway protocol: a login
// call trades credentials for a bearer token, which authorizes send
// calls until it expires.
type GatewayChannel struct {
	baseURL    string
	email      string
	password   string
	sender     string
	httpClient *http.Client

	mu    sync.Mutex
	token string
}

func NewGatewayChannel(baseURL, email, password, sender string) *GatewayChannel {
	return &GatewayChannel{
		baseURL:  baseURL,
		email:    email,
		password: password,
		sender:   sender,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type loginResponse struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
}

func (c *GatewayChannel) authenticate(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"email":    c.email,
		"password": c.password,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gateway login failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gateway login failed: status %d", resp.StatusCode)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", fmt.Errorf("gateway login failed: %w", err)
	}
	if lr.Data.Token == "" {
		return "", fmt.Errorf("gateway login returned empty token")
	}
	return lr.Data.Token, nil
}

func (c *GatewayChannel) bearerToken(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && !force {
		return c.token, nil
	}
	token, err := c.authenticate(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

func (c *GatewayChannel) send(ctx context.Context, token, phone, message string) (int, error) {
	body, err := json.Marshal(map[string]string{
		"mobile_phone": phone,
		"message":      message,
		"from":         c.sender,
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/message/sms/send", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("gateway send failed: %w", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// Send delivers one message, re-authenticating once if the cached
// bearer token has gone stale.
func (c *GatewayChannel) Send(ctx context.Context, phone, message string) error {
	token, err := c.bearerToken(ctx, false)
	if err != nil {
		return err
	}

	status, err := c.send(ctx, token, phone, message)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		token, err = c.bearerToken(ctx, true)
		if err != nil {
			return err
		}
		status, err = c.send(ctx, token, phone, message)
		if err != nil {
			return err
		}
	}
	if status != http.StatusOK {
		return fmt.Errorf("gateway send failed: status %d", status)
	}
	return nil
}

// LogChannel writes messages to the application log instead of a
// gateway. Used in development when no SMS credentials are configured.
type LogChannel struct{}

func (LogChannel) Send(ctx context.Context, phone, message string) error {
	util.Info("sms delivery (log channel)",
		util.String("phone", phone),
		util.String("message", message))
	return nil
}
