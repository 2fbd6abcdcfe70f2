// Package authn authenticates HTTP callers by an Ethereum signature over
// the request. The recovered address is the caller identity used for
// receiver and sender checks.
package authn

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/accordsai/transferlane/pkg/domain"
	"github.com/accordsai/transferlane/pkg/httpx"
	"github.com/accordsai/transferlane/pkg/signature"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	HeaderAddress   = "X-Caller-Address"
	HeaderTimestamp = "X-Caller-Timestamp"
	HeaderSignature = "X-Caller-Signature"

	DefaultMaxSkew = 5 * time.Minute
	maxBodyBytes   = 1 << 20
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrMissingHeaders = fmt.Errorf("%w: missing caller headers", ErrUnauthorized)
	ErrStaleTimestamp = fmt.Errorf("%w: timestamp outside allowed skew", ErrUnauthorized)
	ErrBadSignature   = fmt.Errorf("%w: signature does not match caller", ErrUnauthorized)
)

func PayloadHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// RequestHash is keccak256(method "\n" path "\n" timestamp "\n" sha256(body)).
func RequestHash(method, path string, timestamp int64, body []byte) []byte {
	msg := strings.ToUpper(method) + "\n" + path + "\n" + strconv.FormatInt(timestamp, 10) + "\n" + PayloadHash(body)
	return crypto.Keccak256([]byte(msg))
}

// Sign returns the caller headers for a request made at now.
func Sign(key *ecdsa.PrivateKey, method, path string, body []byte, now time.Time) (http.Header, error) {
	if key == nil {
		return nil, signature.ErrMissingKey
	}
	ts := now.Unix()
	sig, err := signature.SignHash(RequestHash(method, path, ts, body), key)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set(HeaderAddress, crypto.PubkeyToAddress(key.PublicKey).Hex())
	h.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	h.Set(HeaderSignature, sig.Hex())
	return h, nil
}

type Verifier struct {
	MaxSkew time.Duration
	Now     func() time.Time
	Logger  *slog.Logger
}

// Verify checks the caller headers against the request and returns the
// authenticated caller.
func (v Verifier) Verify(h http.Header, method, path string, body []byte) (common.Address, error) {
	rawAddr := strings.TrimSpace(h.Get(HeaderAddress))
	rawTS := strings.TrimSpace(h.Get(HeaderTimestamp))
	rawSig := strings.TrimSpace(h.Get(HeaderSignature))
	if rawAddr == "" || rawTS == "" || rawSig == "" {
		return common.Address{}, ErrMissingHeaders
	}
	caller, err := domain.ParseAddress(rawAddr)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil || ts <= 0 {
		return common.Address{}, fmt.Errorf("%w: invalid timestamp", ErrUnauthorized)
	}
	skew := v.now().Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > v.maxSkew() {
		return common.Address{}, ErrStaleTimestamp
	}
	sig, err := signature.ParseHex(rawSig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	signer, err := signature.RecoverHash(RequestHash(method, path, ts, body), sig)
	if err != nil || signer != caller {
		return common.Address{}, ErrBadSignature
	}
	return caller, nil
}

// Middleware authenticates every request and stores the caller in its
// context. Unauthenticated requests get a 401 envelope.
func (v Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			httpx.WriteError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		caller, err := v.Verify(r.Header, r.Method, r.URL.Path, body)
		if err != nil {
			v.logger().WarnContext(r.Context(), "caller authentication failed",
				"request_id", httpx.RequestID(r.Context()),
				"path", r.URL.Path,
				"caller", r.Header.Get(HeaderAddress),
				"error", err,
			)
			httpx.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error(), nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

func (v Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func (v Verifier) maxSkew() time.Duration {
	if v.MaxSkew > 0 {
		return v.MaxSkew
	}
	return DefaultMaxSkew
}

func (v Verifier) logger() *slog.Logger {
	if v.Logger != nil {
		return v.Logger
	}
	return slog.Default()
}

type callerKey struct{}

func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

func CallerFrom(ctx context.Context) (common.Address, bool) {
	caller, ok := ctx.Value(callerKey{}).(common.Address)
	return caller, ok
}
