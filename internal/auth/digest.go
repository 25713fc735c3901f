// Package auth implements Digest Authentication (spec.md §4.11): HA1 =
// MD5(user:realm:password), stored per-account, with a nonce store for
// challenge/response tracking. Adapted from the teacher's
// SIPDigestAuthenticator, generalized to operate on storage.Account rather
// than a bespoke User type.
package auth

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

// HA1 computes MD5(username:realm:password), the only place a plaintext
// password is ever touched (spec.md §3 Account, §9 open question about the
// unhashed update path — this signature makes hashing mandatory at the
// call site instead of optional).
func HA1(username, realm, password string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%s:%s", username, realm, password)))
	return hex.EncodeToString(sum[:])
}

// Credentials is a parsed Authorization header.
type Credentials struct {
	Username, Realm, Nonce, URI, Response, Algorithm, Opaque, QOP, NC, CNonce string
}

var digestParamPatterns = map[string]*regexp.Regexp{
	"username":  regexp.MustCompile(`username="([^"]*)"|username=([^,\s]*)`),
	"realm":     regexp.MustCompile(`realm="([^"]*)"|realm=([^,\s]*)`),
	"nonce":     regexp.MustCompile(`nonce="([^"]*)"|nonce=([^,\s]*)`),
	"uri":       regexp.MustCompile(`uri="([^"]*)"|uri=([^,\s]*)`),
	"response":  regexp.MustCompile(`response="([^"]*)"|response=([^,\s]*)`),
	"algorithm": regexp.MustCompile(`algorithm="([^"]*)"|algorithm=([^,\s]*)`),
	"opaque":    regexp.MustCompile(`opaque="([^"]*)"|opaque=([^,\s]*)`),
	"qop":       regexp.MustCompile(`qop="([^"]*)"|qop=([^,\s]*)`),
	"nc":        regexp.MustCompile(`nc="([^"]*)"|nc=([^,\s]*)`),
	"cnonce":    regexp.MustCompile(`cnonce="([^"]*)"|cnonce=([^,\s]*)`),
}

// ParseAuthorization parses a SIP Authorization/Proxy-Authorization header
// value (with the leading "Digest " already present).
func ParseAuthorization(header string) (*Credentials, error) {
	if !strings.HasPrefix(header, "Digest ") {
		return nil, fmt.Errorf("not a digest authorization header")
	}
	body := strings.TrimPrefix(header, "Digest ")

	creds := &Credentials{}
	for param, pattern := range digestParamPatterns {
		m := pattern.FindStringSubmatch(body)
		if len(m) <= 1 {
			continue
		}
		value := m[1]
		if value == "" && len(m) > 2 {
			value = m[2]
		}
		switch param {
		case "username":
			creds.Username = value
		case "realm":
			creds.Realm = value
		case "nonce":
			creds.Nonce = value
		case "uri":
			creds.URI = value
		case "response":
			creds.Response = value
		case "algorithm":
			creds.Algorithm = value
		case "opaque":
			creds.Opaque = value
		case "qop":
			creds.QOP = value
		case "nc":
			creds.NC = value
		case "cnonce":
			creds.CNonce = value
		}
	}

	if creds.Username == "" || creds.Realm == "" || creds.Nonce == "" || creds.URI == "" || creds.Response == "" {
		return nil, fmt.Errorf("missing required digest parameter")
	}
	if creds.Algorithm == "" {
		creds.Algorithm = "MD5"
	}
	return creds, nil
}

// ExpectedResponse computes the digest response for HA1 (already
// MD5(user:realm:pass)) against method and creds, per RFC2617.
func ExpectedResponse(ha1, method string, creds *Credentials) string {
	ha2sum := md5.Sum([]byte(method + ":" + creds.URI))
	ha2 := hex.EncodeToString(ha2sum[:])

	var data string
	if creds.QOP == "auth" || creds.QOP == "auth-int" {
		data = fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, creds.Nonce, creds.NC, creds.CNonce, creds.QOP, ha2)
	} else {
		data = fmt.Sprintf("%s:%s:%s", ha1, creds.Nonce, ha2)
	}
	sum := md5.Sum([]byte(data))
	return hex.EncodeToString(sum[:])
}

// Authenticator issues challenges and validates Authorization headers
// against per-account HA1 digests.
type Authenticator struct {
	nonces *NonceStore
}

// New creates an Authenticator with a fresh in-memory nonce store whose
// entries expire after nonceExpiry (spec.md §6 authentication.nonce_expiry).
func New(nonceExpiry time.Duration) *Authenticator {
	return &Authenticator{nonces: NewNonceStore(nonceExpiry)}
}

// Challenge builds a WWW-Authenticate header value for realm, storing a
// freshly generated nonce (spec.md §8: two back-to-back challenges must
// carry different nonces).
func (a *Authenticator) Challenge(realm string) (string, error) {
	nonce, err := generateHex(16)
	if err != nil {
		return "", err
	}
	a.nonces.Store(nonce)
	opaque, err := generateHex(8)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`Digest realm="%s", nonce="%s", opaque="%s", algorithm=MD5, qop="auth"`, realm, nonce, opaque), nil
}

// Validate checks an Authorization header value against ha1/method. It
// returns true only when the nonce is live and the response matches.
func (a *Authenticator) Validate(authHeader, method, ha1 string) (*Credentials, bool) {
	creds, err := ParseAuthorization(authHeader)
	if err != nil {
		return nil, false
	}
	if !a.nonces.Validate(creds.Nonce) {
		return creds, false
	}
	return creds, ExpectedResponse(ha1, method, creds) == creds.Response
}

func generateHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// NonceStore tracks issued nonces with a TTL, mirroring the teacher's
// MemoryNonceStore.
type NonceStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time
	ttl    time.Duration
}

// NewNonceStore creates a nonce store with the given TTL and starts its
// background eviction loop.
func NewNonceStore(ttl time.Duration) *NonceStore {
	s := &NonceStore{nonces: make(map[string]time.Time), ttl: ttl}
	go s.evictLoop()
	return s
}

// Store records a nonce as valid until ttl elapses.
func (s *NonceStore) Store(nonce string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces[nonce] = time.Now().Add(s.ttl)
}

// Validate reports whether nonce is known and unexpired, consuming it
// (single use, like the teacher's checkout-on-validate semantics for
// REGISTER retries which always request a fresh challenge on failure).
func (s *NonceStore) Validate(nonce string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.nonces[nonce]
	if !ok {
		return false
	}
	live := time.Now().Before(expiry)
	if !live {
		delete(s.nonces, nonce)
	}
	return live
}

func (s *NonceStore) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		now := time.Now()
		for n, exp := range s.nonces {
			if now.After(exp) {
				delete(s.nonces, n)
			}
		}
		s.mu.Unlock()
	}
}
