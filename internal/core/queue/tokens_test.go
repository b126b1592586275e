package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenSet_Check(t *testing.T) {
	tokens := TokenSet{
		"validate": "secret-validate-token",
		"generate": "secret-generate-token",
		"empty":    "",
	}

	t.Run("correct token for queue", func(t *testing.T) {
		assert.True(t, tokens.Check("validate", "secret-validate-token"))
	})

	t.Run("wrong token for queue", func(t *testing.T) {
		assert.False(t, tokens.Check("validate", "secret-generate-token"))
	})

	t.Run("unknown queue", func(t *testing.T) {
		assert.False(t, tokens.Check("nonexistent", "anything"))
	})

	t.Run("empty configured token always rejects", func(t *testing.T) {
		assert.False(t, tokens.Check("empty", ""))
		assert.False(t, tokens.Check("empty", "anything"))
	})

	t.Run("empty presented token always rejects", func(t *testing.T) {
		assert.False(t, tokens.Check("validate", ""))
	})
}
