package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"

	"pingup/internal/config"
)

// SignatureHeader carries the HMAC-SHA256 of a domain event body as
// "sha256=<hex>".
const SignatureHeader = "X-Pingup-Signature"

// verifySignature reads the body and checks it against the signature
// header. The body is restored on the request so it can be decoded again.
func verifySignature(r *http.Request, secretKey string, signatureHeaderName string, maxBytes int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxBytes)
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body))

	if secretKey == "" {
		if config.IsProduction() {
			return nil, fmt.Errorf("events secret is required in production mode")
		}
		return body, nil
	}

	signatureHeader := r.Header.Get(signatureHeaderName)
	if signatureHeader == "" {
		return nil, fmt.Errorf("missing signature header: %s", signatureHeaderName)
	}

	parts := strings.SplitN(signatureHeader, "=", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "sha256" {
		return nil, fmt.Errorf("invalid signature format in header %s", signatureHeaderName)
	}
	expectedSignatureHex := strings.ToLower(parts[1])

	computedSignatureHex := signBody(secretKey, body)
	if !hmac.Equal([]byte(computedSignatureHex), []byte(expectedSignatureHex)) {
		return nil, fmt.Errorf("signature mismatch")
	}

	return body, nil
}

func signBody(secretKey string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySharedSecret checks an operator bearer token against the events
// secret in constant time.
func verifySharedSecret(r *http.Request, secretKey string) error {
	if secretKey == "" {
		if config.IsProduction() {
			return fmt.Errorf("events secret is required in production mode")
		}
		return nil
	}
	token := bearerToken(r)
	if token == "" {
		return fmt.Errorf("missing bearer token")
	}
	if !hmac.Equal([]byte(token), []byte(secretKey)) {
		return fmt.Errorf("invalid operator token")
	}
	return nil
}
