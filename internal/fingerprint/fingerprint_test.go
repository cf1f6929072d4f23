package fingerprint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToken(t *testing.T) {
	a := Token("secret-a")
	assert.Equal(t, a, Token("secret-a"))
	assert.NotEqual(t, a, Token("secret-b"))
	assert.True(t, strings.HasPrefix(a, "tok_"))
	assert.Len(t, a, len("tok_")+16)
	assert.NotContains(t, a, "secret")
	assert.Equal(t, "none", Token(""))
}
