package shopify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyRoundTrip(t *testing.T) {
	body := []byte(`{"inventory_item_id":555,"available":3}`)
	secret := "shhh-shared-secret"

	digest := Sign(body, secret)
	assert.True(t, Verify(body, digest, secret))
}

func TestVerifyRejectsMutatedBody(t *testing.T) {
	body := []byte(`{"inventory_item_id":555,"available":3}`)
	secret := "shhh-shared-secret"
	digest := Sign(body, secret)

	// 任意单字节篡改都必须失败
	for i := range body {
		mutated := make([]byte, len(body))
		copy(mutated, body)
		mutated[i] ^= 0x01
		assert.False(t, Verify(mutated, digest, secret), "mutated byte %d", i)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	body := []byte(`{"id":1}`)
	digest := Sign(body, "secret-a")

	assert.False(t, Verify(body, digest, "secret-b"))
}

func TestVerifyMissingInputs(t *testing.T) {
	body := []byte(`{}`)
	digest := Sign(body, "s")

	assert.False(t, Verify(nil, digest, "s"))
	assert.False(t, Verify(body, "", "s"))
	assert.False(t, Verify(body, digest, ""))
}

func TestStripGID(t *testing.T) {
	cases := map[string]string{
		"gid://shopify/InventoryItem/555":    "555",
		"gid://shopify/ProductVariant/98765": "98765",
		"555":                                "555",
		"":                                   "",
		"gid://":                             "gid://",
	}
	for in, want := range cases {
		assert.Equal(t, want, StripGID(in), "input %q", in)
	}
}
