package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactJSONMasksCredentialKeys(t *testing.T) {
	in := []byte(`{"action":"add_task","api_key":"sk-123","nested":{"Authorization":"Bearer xyz","title":"ok"}}`)
	out := string(RedactJSON(in))
	assert.NotContains(t, out, "sk-123")
	assert.NotContains(t, out, "Bearer xyz")
	assert.Contains(t, out, `"title":"ok"`)
}

func TestRedactJSONPassesThroughNonJSON(t *testing.T) {
	in := []byte("not json")
	assert.Equal(t, in, RedactJSON(in))
}
