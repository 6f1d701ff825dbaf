package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL matches the RTC provider's default token lifetime.
const DefaultTokenTTL = 24 * time.Hour

var ErrInvalidChannel = errors.New("invalid channel name")

type Token struct {
	Value     string
	ExpiresAt time.Time
}

// VideoTokenIssuer signs tokens for the audio/video provider. The caller owns
// the channel name and uid; the issuer only signs.
type VideoTokenIssuer interface {
	IssueToken(channel string, uid uint32, role Role, ttl time.Duration) (Token, error)
}

type RTCClaims struct {
	AppID   string `json:"app_id"`
	Channel string `json:"channel"`
	UID     uint32 `json:"uid"`
	Role    Role   `json:"role"`
	jwt.RegisteredClaims
}

// JWTTokenIssuer signs HS256 tokens with the app certificate.
type JWTTokenIssuer struct {
	appID  string
	secret []byte
	now    func() time.Time
}

func NewJWTTokenIssuer(appID, appCertificate string) (*JWTTokenIssuer, error) {
	if appID == "" || appCertificate == "" {
		return nil, errors.New("video token issuer: app id and certificate are required")
	}
	return &JWTTokenIssuer{appID: appID, secret: []byte(appCertificate), now: time.Now}, nil
}

func (i *JWTTokenIssuer) AppID() string { return i.appID }

func (i *JWTTokenIssuer) IssueToken(channel string, uid uint32, role Role, ttl time.Duration) (Token, error) {
	if !ValidChannelName(channel) {
		return Token{}, fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	issuedAt := i.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(ttl)

	claims := RTCClaims{
		AppID:   i.appID,
		Channel: channel,
		UID:     uid,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.appID,
			Subject:   fmt.Sprintf("%d", uid),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign rtc token: %w", err)
	}
	return Token{Value: signed, ExpiresAt: expiresAt}, nil
}

// Parse verifies a token signed by this issuer.
func (i *JWTTokenIssuer) Parse(token string) (*RTCClaims, error) {
	claims := &RTCClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, err
	}
	return claims, nil
}
