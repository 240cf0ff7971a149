// Package token implements the signed join-token codec shared with game
// clients and servers. The format is two dot-separated base64url segments:
// the JSON payload and an HMAC-SHA256 signature over the payload bytes. The
// format is a wire contract and must stay byte-compatible with the verifiers
// embedded in the game runtime.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrMalformed   = errors.New("malformed token")
	ErrSignature   = errors.New("token signature mismatch")
	ErrExpired     = errors.New("token_expired")
	ErrNotYetValid = errors.New("token_not_yet_valid")
)

// Payload is the signed claim set carried by a join token. NotBefore and
// Expiry are epoch milliseconds; zero means the bound is absent. A payload is
// immutable once issued.
type Payload struct {
	MatchID   string `json:"match_id"`
	PlayerID  string `json:"player_id"`
	NotBefore int64  `json:"nbf,omitempty"`
	Expiry    int64  `json:"exp,omitempty"`
}

// Codec signs and verifies join tokens with a shared symmetric secret.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// NewCodec creates a codec for the given shared secret.
func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret), now: time.Now}
}

// Sign encodes and signs a payload.
func (c *Codec) Sign(p Payload) (string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	sig := c.signature(body)
	return base64.RawURLEncoding.EncodeToString(body) + "." + sig, nil
}

// Verify checks structure, signature and temporal bounds, failing closed on
// any defect. The signature comparison is constant-time.
func (c *Codec) Verify(token string) (*Payload, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok || encoded == "" || sig == "" {
		return nil, ErrMalformed
	}

	body, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrMalformed
	}

	expected := c.signature(body)
	if len(sig) != len(expected) || !hmac.Equal([]byte(sig), []byte(expected)) {
		return nil, ErrSignature
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, ErrMalformed
	}

	nowMs := c.now().UnixMilli()
	if p.NotBefore > 0 && nowMs < p.NotBefore {
		return nil, ErrNotYetValid
	}
	if p.Expiry > 0 && nowMs > p.Expiry {
		return nil, ErrExpired
	}
	return &p, nil
}

func (c *Codec) signature(body []byte) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(body)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
