package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

func sign(secret string, msg []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(msg)
	return hex.EncodeToString(h.Sum(nil))
}

func verify(secret string, msg []byte, signature string) error {
	if secret == "" {
		return fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrMissingSignature
	}
	expected := sign(secret, msg)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return ErrInvalidSignature
	}
	return nil
}

// SignPayment returns the checkout signature for an order and payment pair.
func SignPayment(keySecret, orderID, paymentID string) string {
	return sign(keySecret, []byte(orderID+"|"+paymentID))
}

// VerifyPaymentSignature checks a checkout signature.
func VerifyPaymentSignature(keySecret, orderID, paymentID, signature string) error {
	return verify(keySecret, []byte(orderID+"|"+paymentID), signature)
}

// SignWebhook returns the signature the gateway sends for payload.
func SignWebhook(webhookSecret string, payload []byte) string {
	return sign(webhookSecret, payload)
}

// VerifyWebhookSignature checks a webhook signature over the raw payload.
func VerifyWebhookSignature(webhookSecret string, payload []byte, signature string) error {
	return verify(webhookSecret, payload, signature)
}
