package session

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the signed payload of a session token.
type Claims struct {
	// UserID is set when the advisory service already knows the buyer.
	UserID string `json:"uid,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) userID() (*int64, error) {
	if c.UserID == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(c.UserID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed uid claim: %w", err)
	}
	return &id, nil
}

// ClockSkew is tolerated between the issuing and the verifying host.
const ClockSkew = 5 * time.Second

var (
	errTokenMalformed = errors.New("token malformed")
	errTokenExpired   = errors.New("token expired")
)

// Keyring holds the HMAC secrets shared by the advisory and settlement
// services. Tokens are signed with the active key and carry its id in the
// "kid" header; retired keys still verify until they are removed.
type Keyring struct {
	activeID string
	keys     map[string][]byte
	issuer   string
}

func NewKeyring(activeID string, secret []byte, issuer string) (*Keyring, error) {
	if activeID == "" {
		return nil, errors.New("keyring: key id is required")
	}
	if len(secret) < 32 {
		return nil, errors.New("keyring: secret must be at least 32 bytes")
	}
	return &Keyring{
		activeID: activeID,
		keys:     map[string][]byte{activeID: secret},
		issuer:   issuer,
	}, nil
}

// AddVerificationKey registers a retired key that is accepted but never used to sign.
func (k *Keyring) AddVerificationKey(id string, secret []byte) {
	if id == "" || id == k.activeID {
		return
	}
	k.keys[id] = secret
}

func (k *Keyring) sign(claims *Claims) (string, error) {
	claims.Issuer = k.issuer
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["kid"] = k.activeID
	return tok.SignedString(k.keys[k.activeID])
}

// parse validates signature, algorithm, issuer and expiry against now.
// It returns errTokenExpired only for authentic tokens whose exp has passed.
func (k *Keyring) parse(token string, now time.Time) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(k.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(ClockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	claims := new(Claims)
	_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		secret, ok := k.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, errTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", errTokenMalformed, err)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing jti", errTokenMalformed)
	}
	if _, err := claims.userID(); err != nil {
		return nil, fmt.Errorf("%w: %v", errTokenMalformed, err)
	}
	return claims, nil
}
