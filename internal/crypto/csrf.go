package crypto

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CSRFProtection issues stateless form tokens bound to a browser client id.
// Format: nonce:timestamp:signature where the signature covers the client id.
type CSRFProtection struct {
	signingKey []byte
	ttl        time.Duration
}

// NewCSRFProtection creates a new CSRF protection instance
func NewCSRFProtection(signingKey []byte, ttl time.Duration) CSRFProtection {
	return CSRFProtection{
		signingKey: signingKey,
		ttl:        ttl,
	}
}

// Generate creates a token for the given client id
func (c *CSRFProtection) Generate(clientID string) (string, error) {
	nonce, err := randomString(16)
	if err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	signature := SignData(clientID+":"+nonce+":"+timestamp, c.signingKey)
	return nonce + ":" + timestamp + ":" + signature, nil
}

// Validate checks the token belongs to clientID and has not expired
func (c *CSRFProtection) Validate(clientID, token string) bool {
	parts := strings.SplitN(token, ":", 3)
	if len(parts) != 3 {
		return false
	}
	nonce, timestampStr, signature := parts[0], parts[1], parts[2]

	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return false
	}
	if time.Since(time.Unix(timestamp, 0)) > c.ttl {
		return false
	}
	return ValidateSignedData(clientID+":"+nonce+":"+timestampStr, signature, c.signingKey)
}
