package observability

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverPanic(t *testing.T) {
	log, hook := test.NewNullLogger()

	assert.NotPanics(t, func() {
		defer RecoverPanic(log, "flush")
		panic("boom")
	})

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "flush", entry.Data["context"])
	assert.Equal(t, "boom", entry.Data["panic"])
	assert.NotEmpty(t, entry.Data["stack"])
}

func TestRecoverPanicWithCallback(t *testing.T) {
	log, hook := test.NewNullLogger()

	var got interface{}
	func() {
		defer RecoverPanicWithCallback(log, "record", func(r interface{}) { got = r })
		panic("bad event")
	}()
	assert.Equal(t, "bad event", got)
	assert.Len(t, hook.AllEntries(), 1)

	called := false
	func() {
		defer RecoverPanicWithCallback(log, "record", func(interface{}) { called = true })
	}()
	assert.False(t, called, "callback only runs after a panic")
}

func TestMustRecover(t *testing.T) {
	assert.NoError(t, MustRecover(nil))

	sentinel := errors.New("sentinel")
	err := MustRecover(sentinel)
	assert.ErrorIs(t, err, sentinel)

	assert.EqualError(t, MustRecover("text"), "panic: text")
}
