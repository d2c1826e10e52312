// Package identity resolves the authenticated player behind a connection
// attempt. Credential issuance lives elsewhere; this package only verifies.
package identity

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/quizduel/backend/internal/domain"
	"github.com/quizduel/backend/internal/errors"
)

// Resolver resolves a connection attempt to a player identity, once, before
// any core state is created for the connection.
type Resolver interface {
	Resolve(r *http.Request) (domain.Identity, error)
}

// Claims are the token fields the duel engine needs.
type Claims struct {
	UserID     int64  `json:"userId"`
	Username   string `json:"username"`
	RankPoints int    `json:"rankPoints"`
	jwt.RegisteredClaims
}

// JWTResolver verifies HS256 tokens. Browser websocket clients cannot set
// headers, so the token travels as the websocket subprotocol; a token query
// parameter is accepted as a fallback.
type JWTResolver struct {
	secret []byte
}

func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret)}
}

func (j *JWTResolver) Resolve(r *http.Request) (domain.Identity, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return domain.Identity{}, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("missing token"))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.Identity{}, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("invalid token"),
			errors.WithCause(err),
		)
	}

	return domain.Identity{
		PlayerID:    strconv.FormatInt(claims.UserID, 10),
		Username:    claims.Username,
		SkillRating: claims.RankPoints,
	}, nil
}

// TokenFromRequest extracts the raw token from the websocket subprotocol
// list, falling back to the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if proto := r.Header.Get("Sec-WebSocket-Protocol"); proto != "" {
		return strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	return r.URL.Query().Get("token")
}
