package state

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestId(t *testing.T) {
	id := NewId()
	assert.NotEqual(t, Id{}, id)

	parsed, err := ParseId(id.String())
	assert.Equal(t, nil, err)
	assert.Equal(t, id, parsed)

	fromBytes, err := IdFromBytes(id.Bytes())
	assert.Equal(t, nil, err)
	assert.Equal(t, id, fromBytes)

	_, err = IdFromBytes([]byte{1, 2, 3})
	assert.NotEqual(t, nil, err)

	_, err = ParseId("not an id")
	assert.NotEqual(t, nil, err)

	b, err := json.Marshal(&id)
	assert.Equal(t, nil, err)
	var decoded Id
	assert.Equal(t, nil, json.Unmarshal(b, &decoded))
	assert.Equal(t, id, decoded)
}

func TestIdGenerator(t *testing.T) {
	idGenerator := NewIdGenerator("msg")

	seenIds := map[string]bool{}
	for i := 0; i < 100; i += 1 {
		id := idGenerator.NextId()
		assert.Equal(t, true, strings.HasPrefix(id, "msg-"))
		assert.Equal(t, false, seenIds[id])
		seenIds[id] = true
	}

	// no prefix
	bare := NewIdGenerator("").NextId()
	assert.Equal(t, false, strings.Contains(bare, "-"))
}
