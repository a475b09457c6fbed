package prompt

import (
	"errors"
	"fmt"
	"testing"

	"github.com/manifoldco/promptui"
	"github.com/stretchr/testify/assert"
)

func TestIsAborted(t *testing.T) {
	assert.True(t, IsAborted(promptui.ErrInterrupt))
	assert.True(t, IsAborted(promptui.ErrEOF))
	assert.True(t, IsAborted(fmt.Errorf("wizard: %w", ErrAborted)))
	assert.False(t, IsAborted(errors.New("boom")))
	assert.False(t, IsAborted(nil))

	assert.Nil(t, wrapError(nil))
	assert.Equal(t, ErrAborted, wrapError(promptui.ErrInterrupt))
}

func TestValidatePort(t *testing.T) {
	for _, ok := range []string{"1", "50000", "65535"} {
		assert.NoError(t, ValidatePort(ok), ok)
	}
	for _, bad := range []string{"", "0", "65536", "-1", "port"} {
		assert.Error(t, ValidatePort(bad), bad)
	}
}

func TestValidateDuration(t *testing.T) {
	assert.NoError(t, ValidateDuration("5s"))
	assert.NoError(t, ValidateDuration("250ms"))
	assert.Error(t, ValidateDuration("0s"))
	assert.Error(t, ValidateDuration("-1s"))
	assert.Error(t, ValidateDuration("soon"))
}
