package transport

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestClientJwt(t *testing.T) {
	secret := []byte("test secret")

	tokenStr, err := MintClientJwt(secret, &ClientJwt{
		ClientId: "clientA",
		Name:     "Alice",
	}, 1*time.Hour)
	assert.Equal(t, nil, err)

	clientJwt, err := ParseClientJwt(secret, tokenStr)
	assert.Equal(t, nil, err)
	assert.Equal(t, "clientA", clientJwt.ClientId)
	assert.Equal(t, "Alice", clientJwt.Name)

	// wrong secret
	_, err = ParseClientJwt([]byte("other secret"), tokenStr)
	assert.NotEqual(t, nil, err)

	// garbage token
	_, err = ParseClientJwt(secret, "not a token")
	assert.NotEqual(t, nil, err)

	// expired token
	tokenStr, err = MintClientJwt(secret, &ClientJwt{
		ClientId: "clientA",
	}, -1*time.Hour)
	assert.Equal(t, nil, err)
	_, err = ParseClientJwt(secret, tokenStr)
	assert.NotEqual(t, nil, err)

	// missing client_id claim
	tokenStr, err = MintClientJwt(secret, &ClientJwt{}, 1*time.Hour)
	assert.Equal(t, nil, err)
	_, err = ParseClientJwt(secret, tokenStr)
	assert.NotEqual(t, nil, err)
}
