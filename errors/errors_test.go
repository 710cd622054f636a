package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelWrapping(t *testing.T) {
	err := Wrap(ErrCircuitOpen, "row 3")
	assert.True(t, Is(err, ErrCircuitOpen))
	assert.False(t, Is(err, ErrAlreadyRunning))
}

func TestIsRowFailure(t *testing.T) {
	assert.True(t, IsRowFailure(NewUnmappedAccount("abc")))
	assert.True(t, IsRowFailure(NewUnmappedProject("abc", "p1")))
	assert.True(t, IsRowFailure(Wrap(ErrCircuitOpen, "shed")))
	assert.False(t, IsRowFailure(ErrAlreadyRunning))
	assert.False(t, IsRowFailure(New("driver exploded")))
	assert.False(t, IsRowFailure(nil))
}

func TestUnmappedErrorsCarryCodes(t *testing.T) {
	err := NewUnmappedProject("acme", "internal-tools")
	assert.Contains(t, err.Error(), "acme")
	assert.Contains(t, err.Error(), "internal-tools")
}

func TestIsTaskNotFound(t *testing.T) {
	assert.True(t, IsTaskNotFound(Wrapf(ErrTaskNotFound, "id %s", "T_123")))
	assert.False(t, IsTaskNotFound(nil))
	assert.False(t, IsTaskNotFound(New("other")))
}
