// Package paypal verifies and parses PayPal webhook deliveries. Signature
// verification goes through PayPal's verify-webhook-signature API rather
// than local certificate checks, per PayPal's current guidance.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/learnify/learnify/internal/payment/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "paypal"
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api-m.paypal.com"
	}
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	if strings.TrimSpace(cfg.WebhookID) == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	return &Adapter{
		baseURL:      baseURL,
		clientID:     strings.TrimSpace(cfg.ClientID),
		clientSecret: strings.TrimSpace(cfg.ClientSecret),
		webhookID:    strings.TrimSpace(cfg.WebhookID),
		client:       &http.Client{Timeout: 12 * time.Second},
	}, nil
}

type Adapter struct {
	baseURL      string
	clientID     string
	clientSecret string
	webhookID    string
	client       *http.Client
}

func (a *Adapter) Provider() string {
	return "paypal"
}

type webhookEvent struct {
	ID         string `json:"id"`
	EventType  string `json:"event_type"`
	CreateTime string `json:"create_time"`
	Resource   struct {
		ID       string `json:"id"`
		CustomID string `json:"custom_id"`
		Amount   struct {
			Value        string `json:"value"`
			CurrencyCode string `json:"currency_code"`
		} `json:"amount"`
	} `json:"resource"`
}

func (a *Adapter) ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*paymentdomain.PaymentEvent, error) {
	if err := a.verify(ctx, payload, headers); err != nil {
		return nil, err
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}

	var eventType string
	switch strings.TrimSpace(event.EventType) {
	case "PAYMENT.CAPTURE.COMPLETED":
		eventType = paymentdomain.EventTypePaymentSucceeded
	case "PAYMENT.CAPTURE.DENIED":
		eventType = paymentdomain.EventTypePaymentFailed
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	ownerID, packageID, err := parseCustomID(event.Resource.CustomID)
	if err != nil {
		return nil, err
	}

	occurredAt := time.Now().UTC()
	if t, err := time.Parse(time.RFC3339, event.CreateTime); err == nil {
		occurredAt = t.UTC()
	}

	return &paymentdomain.PaymentEvent{
		Provider:        "paypal",
		ProviderEventID: event.ID,
		Type:            eventType,
		OwnerID:         ownerID,
		PackageID:       packageID,
		AmountCents:     parseAmountCents(event.Resource.Amount.Value),
		Currency:        strings.ToUpper(strings.TrimSpace(event.Resource.Amount.CurrencyCode)),
		OccurredAt:      occurredAt,
		RawPayload:      payload,
	}, nil
}

// custom_id is set at checkout as "<owner_id>:<package_id>".
func parseCustomID(customID string) (snowflake.ID, string, error) {
	parts := strings.SplitN(strings.TrimSpace(customID), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return 0, "", paymentdomain.ErrInvalidOwner
	}
	raw, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || raw == 0 {
		return 0, "", paymentdomain.ErrInvalidOwner
	}
	return snowflake.ID(raw), parts[1], nil
}

func parseAmountCents(value string) int64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return int64(f*100 + 0.5)
}

type verifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type verifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

func (a *Adapter) verify(ctx context.Context, payload []byte, headers http.Header) error {
	req := verifyRequest{
		AuthAlgo:         headers.Get("Paypal-Auth-Algo"),
		CertURL:          headers.Get("Paypal-Cert-Url"),
		TransmissionID:   headers.Get("Paypal-Transmission-Id"),
		TransmissionSig:  headers.Get("Paypal-Transmission-Sig"),
		TransmissionTime: headers.Get("Paypal-Transmission-Time"),
		WebhookID:        a.webhookID,
		WebhookEvent:     payload,
	}
	if req.TransmissionID == "" || req.TransmissionSig == "" {
		return paymentdomain.ErrInvalidSignature
	}

	token, err := a.accessToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/v1/notifications/verify-webhook-signature", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("paypal verify request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("paypal verify returned status %d", resp.StatusCode)
	}

	var verdict verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return err
	}
	if verdict.VerificationStatus != "SUCCESS" {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) accessToken(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(a.clientID, a.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("paypal token returned status %d", resp.StatusCode)
	}

	var token struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", err
	}
	if token.AccessToken == "" {
		return "", errors.New("paypal token response missing access_token")
	}
	return token.AccessToken, nil
}
