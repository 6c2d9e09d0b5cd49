package logging_test

import (
	"testing"

	"github.com/sdmakit/sdma/core/logging"
	"github.com/sdmakit/sdma/core/testenv"
)

var makeAR = testenv.MakeAR

func TestLevels(t *testing.T) {
	assert, require := makeAR(t)

	t.Setenv("SDMA_LOG_LoggingTestA", "W")
	logging.New("LoggingTestA")
	logging.New("LoggingTestB")

	plA := logging.FindLevel("LoggingTestA")
	require.NotNil(plA)
	assert.EqualValues('W', plA.Level())

	plB := logging.FindLevel("LoggingTestB")
	require.NotNil(plB)

	nCallbacks := 0
	plB.SetCallback(func() { nCallbacks++ })
	logging.SetLevels(map[string]string{"LoggingTestB": "E"})
	assert.EqualValues('E', logging.FindLevel("LoggingTestB").Level())
	assert.Equal(1, nCallbacks)

	logging.SetLevels(map[string]string{"*": "D"})
	assert.EqualValues('D', logging.FindLevel("LoggingTestA").Level())
	assert.EqualValues('D', logging.FindLevel("LoggingTestB").Level())

	logging.GetLevel("LoggingTestA").SetLevel("bogus")
	assert.EqualValues('I', logging.FindLevel("LoggingTestA").Level())
}
