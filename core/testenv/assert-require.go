// Package testenv provides general test utilities.
package testenv

import (
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Timing constants for asynchronous assertions.
const (
	WaitTimeout  = 2 * time.Second
	WaitInterval = time.Millisecond
)

// MakeAR creates testify assert and require objects.
func MakeAR(t require.TestingT) (*assert.Assertions, *require.Assertions) {
	return assert.New(t), require.New(t)
}

// Eventually asserts that cond returns true within WaitTimeout.
func Eventually(a *require.Assertions, cond func() bool, msgAndArgs ...any) {
	a.Eventually(cond, WaitTimeout, WaitInterval, msgAndArgs...)
}
