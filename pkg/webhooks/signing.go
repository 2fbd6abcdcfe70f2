// Package webhooks delivers settlement events to an HTTP endpoint, signed
// with a shared HMAC secret so the receiver can authenticate them.
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	SignatureHeader = "X-Signature"
	TimestampHeader = "X-Timestamp"
	EventIDHeader   = "X-Event-Id"
	EventTypeHeader = "X-Event-Type"

	DefaultTolerance = 5 * time.Minute
)

// SignBody returns "sha256=" followed by the hex HMAC of "<ts>.<body>".
func SignBody(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte{'.'})
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a delivery's signature and that its timestamp is
// within tolerance of now. A zero tolerance uses DefaultTolerance.
func VerifySignature(secret string, headers http.Header, body []byte, now time.Time, tolerance time.Duration) bool {
	if secret == "" {
		return false
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(headers.Get(TimestampHeader)), 10, 64)
	if err != nil || ts <= 0 {
		return false
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	skew := now.Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > tolerance {
		return false
	}
	sig := strings.TrimSpace(headers.Get(SignatureHeader))
	if strings.HasPrefix(strings.ToLower(sig), "sha256=") {
		sig = sig[len("sha256="):]
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(strings.TrimPrefix(SignBody(secret, ts, body), "sha256="))
	return hmac.Equal(got, want)
}
