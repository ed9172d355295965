package postpone

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeavy_RunsInlineOutsideScope(t *testing.T) {
	c := New()
	ran := false
	c.Heavy(func() { ran = true })
	assert.True(t, ran)
}

func TestScope_DrainsInFIFOOrderAfterBody(t *testing.T) {
	c := New()
	var order []string
	err := c.Scope(func() error {
		c.Heavy(func() { order = append(order, "first") })
		c.Heavy(func() { order = append(order, "second") })
		order = append(order, "body")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"body", "first", "second"}, order)
}

func TestScope_DrainsEvenWhenBodyFails(t *testing.T) {
	c := New()
	ran := false
	err := c.Scope(func() error {
		c.Heavy(func() { ran = true })
		return errors.New("jump aborted")
	})
	assert.Error(t, err)
	assert.True(t, ran, "deferred calls must drain on failure")
}

func TestScope_DrainsEvenWhenBodyPanics(t *testing.T) {
	c := New()
	ran := false
	require.Panics(t, func() {
		_ = c.Scope(func() error {
			c.Heavy(func() { ran = true })
			panic("boom")
		})
	})
	assert.True(t, ran)
	// The context must be reusable afterwards.
	inline := false
	c.Heavy(func() { inline = true })
	assert.True(t, inline)
}

func TestScope_NestedIsFlagWiseNoOp(t *testing.T) {
	c := New()
	var order []string
	err := c.Scope(func() error {
		innerErr := c.Scope(func() error {
			c.Heavy(func() { order = append(order, "deferred") })
			order = append(order, "inner")
			return nil
		})
		require.NoError(t, innerErr)
		// The nested scope must not drain; the outer one does.
		assert.Equal(t, []string{"inner"}, order)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"inner", "deferred"}, order)
}
