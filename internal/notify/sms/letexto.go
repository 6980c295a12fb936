// Package sms sends text messages through the LeTexto HTTP gateway.
package sms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL     = "https://apis.letexto.com/v1"
	defaultSender      = "REXTO"
	defaultCountryCode = "225"
	defaultTimeout     = 10 * time.Second
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("sms: API key not configured")

// LeTextoClient sends SMS via GET {BaseURL}/messages/send. Phones are given in
// local digits-only form; CountryCode is prepended on the wire.
type LeTextoClient struct {
	APIKey      string
	BaseURL     string
	Sender      string
	CountryCode string
	AppName     string
	HTTPClient  *http.Client
}

// NewLeTextoClient returns a client; empty baseURL, sender or countryCode fall back
// to the LeTexto defaults. timeout bounds each request (10s if zero).
func NewLeTextoClient(apiKey, baseURL, sender, countryCode string, timeout time.Duration) *LeTextoClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if sender == "" {
		sender = defaultSender
	}
	if countryCode == "" {
		countryCode = defaultCountryCode
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &LeTextoClient{
		APIKey:      apiKey,
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Sender:      sender,
		CountryCode: countryCode,
		AppName:     "MedConnect",
		HTTPClient:  &http.Client{Timeout: timeout},
	}
}

// Send delivers message to phone. A timeout surfaces as an error like any other failure.
func (c *LeTextoClient) Send(ctx context.Context, phone, message string) error {
	if c.APIKey == "" {
		return ErrNotConfigured
	}
	if phone == "" || message == "" {
		return errors.New("sms: phone and message are required")
	}
	q := url.Values{}
	q.Set("token", c.APIKey)
	q.Set("from", c.Sender)
	q.Set("to", c.CountryCode+phone)
	q.Set("content", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/messages/send?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("sms: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("sms: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}

// SendOTP sends the verification code message. Does not log the code.
func (c *LeTextoClient) SendOTP(ctx context.Context, phone, code string, validFor time.Duration) error {
	msg := fmt.Sprintf("Votre code de vérification %s est: %s. Valable %d minutes.", c.AppName, code, int(validFor/time.Minute))
	return c.Send(ctx, phone, msg)
}
