package kyc

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// WebhookEvent is the provider's signed notification. SessionID refers to
// the provider's session identifier, not ours.
type WebhookEvent struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId"`
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Payload   WebhookPayload `json:"payload"`
}

// WebhookPayload carries the verified identity facts on approval. These stay
// inside the orchestrator: only the name hash and the encrypted birth-year
// offset ever reach the core.
type WebhookPayload struct {
	FullName  string `json:"fullName"`
	BirthDate string `json:"birthDate"` // 2006-01-02
}

// Provider verdicts carried in WebhookEvent.Status.
const (
	webhookStatusApproved = "approved"
	webhookStatusDeclined = "declined"
)

// SignaturePayload is the exact string the provider HMACs.
func SignaturePayload(event WebhookEvent) string {
	return fmt.Sprintf("%s:%s:%s:%s", event.Timestamp, event.SessionID, event.Status, event.Type)
}

// ComputeSignature returns the hex HMAC-SHA256 the provider attaches.
func ComputeSignature(secret string, event WebhookEvent) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(SignaturePayload(event)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature checks the provider HMAC in constant time and
// enforces the timestamp skew window.
func VerifyWebhookSignature(secret string, event WebhookEvent, signature string, now time.Time, maxSkew time.Duration) error {
	want := ComputeSignature(secret, event)
	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrInvalidWebhookSignature
	}
	wantRaw, _ := hex.DecodeString(want)
	if !hmac.Equal(wantRaw, got) {
		return ErrInvalidWebhookSignature
	}

	unix, err := strconv.ParseInt(event.Timestamp, 10, 64)
	if err != nil {
		return ErrMalformedWebhook
	}
	at := time.Unix(unix, 0)
	if at.Before(now.Add(-maxSkew)) || at.After(now.Add(maxSkew)) {
		return ErrStaleWebhook
	}
	return nil
}
