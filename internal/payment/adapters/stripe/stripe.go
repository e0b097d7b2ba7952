package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/tidewaylabs/tideway/internal/payment/domain"
)

const providerName = "stripe"

type Adapter struct {
	apiKey        string
	webhookSecret string
	baseURL       string
	client        *http.Client
}

func NewAdapter(cfg paymentdomain.AdapterConfig) *Adapter {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	return &Adapter{
		apiKey:        strings.TrimSpace(cfg.APIKey),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		baseURL:       baseURL,
		client:        &http.Client{Timeout: 12 * time.Second},
	}
}

func (a *Adapter) Provider() string { return providerName }

// -- Charging --

type intentResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type errorResponse struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"error"`
}

func (a *Adapter) Charge(ctx context.Context, req paymentdomain.ChargeRequest) (paymentdomain.ChargeResult, error) {
	if a.apiKey == "" {
		return paymentdomain.ChargeResult{Outcome: paymentdomain.OutcomeProcessorError}, paymentdomain.ErrUnknownProvider
	}

	values := url.Values{}
	values.Set("amount", strconv.FormatInt(req.Amount, 10))
	values.Set("currency", strings.ToLower(strings.TrimSpace(req.Currency)))
	values.Set("payment_method", strings.TrimSpace(req.InstrumentRef))
	values.Set("confirm", "true")
	values.Set("off_session", "true")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/payment_intents", strings.NewReader(values.Encode()))
	if err != nil {
		return paymentdomain.ChargeResult{Outcome: paymentdomain.OutcomeProcessorError}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		// Transport faults and deadline hits are indistinguishable
		// from the caller's view: the charge may or may not have
		// landed.
		return paymentdomain.ChargeResult{Outcome: paymentdomain.OutcomeProcessorError}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return paymentdomain.ChargeResult{Outcome: paymentdomain.OutcomeProcessorError, DeclineCode: "provider_unavailable"}, nil
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var stripeErr errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&stripeErr); err != nil {
			return paymentdomain.ChargeResult{Outcome: paymentdomain.OutcomeProcessorError}, nil
		}
		code := strings.TrimSpace(stripeErr.Error.DeclineCode)
		if code == "" {
			code = strings.TrimSpace(stripeErr.Error.Code)
		}
		return paymentdomain.ChargeResult{
			Outcome:     ClassifyDecline(code),
			DeclineCode: code,
		}, nil
	}

	var intent intentResponse
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return paymentdomain.ChargeResult{Outcome: paymentdomain.OutcomeProcessorError}, nil
	}
	if intent.ID == "" {
		return paymentdomain.ChargeResult{Outcome: paymentdomain.OutcomeProcessorError}, nil
	}

	if intent.Status != "succeeded" {
		return paymentdomain.ChargeResult{
			Outcome:      paymentdomain.OutcomeDeclinedRetryable,
			ProcessorRef: intent.ID,
			DeclineCode:  intent.Status,
		}, nil
	}

	return paymentdomain.ChargeResult{
		Outcome:      paymentdomain.OutcomeSucceeded,
		ProcessorRef: intent.ID,
	}, nil
}

// ClassifyDecline maps provider decline codes onto the engine's
// outcome taxonomy. Unrecognized codes are treated as retryable.
func ClassifyDecline(code string) paymentdomain.Outcome {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "stolen_card", "lost_card", "fraudulent", "pickup_card":
		return paymentdomain.OutcomeDeclinedPermanent
	case "expired_card", "incorrect_number", "invalid_account":
		return paymentdomain.OutcomeDeclinedPermanent
	case "insufficient_funds", "do_not_honor", "try_again_later", "processing_error", "card_velocity_exceeded", "generic_decline":
		return paymentdomain.OutcomeDeclinedRetryable
	default:
		return paymentdomain.OutcomeDeclinedRetryable
	}
}

// -- Webhooks --

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return paymentdomain.ErrInvalidSignature
}

type event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Created int64     `json:"created"`
	Data    eventData `json:"data"`
}

type eventData struct {
	Object json.RawMessage `json:"object"`
}

type paymentIntent struct {
	ID               string         `json:"id"`
	Amount           int64          `json:"amount"`
	AmountReceived   int64          `json:"amount_received"`
	Currency         string         `json:"currency"`
	Created          int64          `json:"created"`
	Metadata         map[string]any `json:"metadata"`
	LastPaymentError *struct {
		DeclineCode string `json:"decline_code"`
		Code        string `json:"code"`
	} `json:"last_payment_error"`
}

type subscriptionObject struct {
	ID       string         `json:"id"`
	Status   string         `json:"status"`
	Created  int64          `json:"created"`
	Metadata map[string]any `json:"metadata"`
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.ProcessorEvent, error) {
	var ev event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(ev.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(ev.Type) {
	case "payment_intent.succeeded", "charge.succeeded":
		return a.parseIntent(ev, payload, paymentdomain.EventChargeSucceeded)
	case "payment_intent.payment_failed", "charge.failed":
		return a.parseIntent(ev, payload, paymentdomain.EventChargeFailed)
	case "customer.subscription.updated":
		return a.parseSubscription(ev, payload)
	default:
		return &paymentdomain.ProcessorEvent{
			Provider:        providerName,
			ProviderEventID: ev.ID,
			Type:            paymentdomain.EventUnknown,
			OccurredAt:      timestamp(0, ev.Created),
			RawPayload:      payload,
		}, nil
	}
}

func (a *Adapter) parseIntent(ev event, payload []byte, eventType string) (*paymentdomain.ProcessorEvent, error) {
	var intent paymentIntent
	if err := json.Unmarshal(ev.Data.Object, &intent); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	amount := intent.AmountReceived
	if amount <= 0 {
		amount = intent.Amount
	}

	var failureReason string
	if intent.LastPaymentError != nil {
		failureReason = strings.TrimSpace(intent.LastPaymentError.DeclineCode)
		if failureReason == "" {
			failureReason = strings.TrimSpace(intent.LastPaymentError.Code)
		}
	}

	return &paymentdomain.ProcessorEvent{
		Provider:        providerName,
		ProviderEventID: ev.ID,
		Type:            eventType,
		ProviderRef:     intent.ID,
		InvoiceID:       metadataInvoiceID(intent.Metadata),
		Amount:          amount,
		Currency:        strings.ToUpper(strings.TrimSpace(intent.Currency)),
		FailureReason:   failureReason,
		OccurredAt:      timestamp(intent.Created, ev.Created),
		RawPayload:      payload,
	}, nil
}

func (a *Adapter) parseSubscription(ev event, payload []byte) (*paymentdomain.ProcessorEvent, error) {
	var sub subscriptionObject
	if err := json.Unmarshal(ev.Data.Object, &sub); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	return &paymentdomain.ProcessorEvent{
		Provider:        providerName,
		ProviderEventID: ev.ID,
		Type:            paymentdomain.EventSubscriptionUpdated,
		ProviderRef:     sub.ID,
		SubscriptionRef: readMetadataString(sub.Metadata, "subscription_id"),
		OccurredAt:      timestamp(sub.Created, ev.Created),
		RawPayload:      payload,
	}, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, paymentdomain.ErrInvalidSignature
	}
	if _, err := strconv.ParseInt(timestamp, 10, 64); err != nil {
		return "", nil, paymentdomain.ErrInvalidSignature
	}
	return timestamp, signatures, nil
}

func metadataInvoiceID(metadata map[string]any) *snowflake.ID {
	raw := readMetadataString(metadata, "invoice_id")
	if raw == "" {
		return nil
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return nil
	}
	return &id
}

func readMetadataString(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	str, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(str)
}

func timestamp(primary, fallback int64) time.Time {
	if primary > 0 {
		return time.Unix(primary, 0).UTC()
	}
	if fallback > 0 {
		return time.Unix(fallback, 0).UTC()
	}
	return time.Now().UTC()
}
