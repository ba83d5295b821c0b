package transport

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ClientJwt identifies a connecting client. Tokens are HMAC-signed; the
// server and the admin tool share the signing secret.
type ClientJwt struct {
	ClientId string
	Name     string
}

func MintClientJwt(secret []byte, clientJwt *ClientJwt, expiration time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"client_id": clientJwt.ClientId,
		"name":      clientJwt.Name,
		"iat":       time.Now().Unix(),
	}
	if 0 < expiration {
		claims["exp"] = time.Now().Add(expiration).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func ParseClientJwt(secret []byte, tokenStr string) (*ClientJwt, error) {
	token, err := jwt.Parse(
		tokenStr,
		func(token *jwt.Token) (any, error) {
			return secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("Bad claims.")
	}
	clientId, ok := claims["client_id"].(string)
	if !ok || clientId == "" {
		return nil, fmt.Errorf("Missing client_id claim.")
	}
	name, _ := claims["name"].(string)
	return &ClientJwt{
		ClientId: clientId,
		Name:     name,
	}, nil
}
