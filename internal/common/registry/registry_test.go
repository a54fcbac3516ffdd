package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"plugin-runtime/internal/common/errors"
)

type fakeFactory struct{ kind string }

func (f fakeFactory) GetType() string { return f.kind }

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := New[fakeFactory]()

	require.NoError(t, r.Register(fakeFactory{"articles"}))
	require.NoError(t, r.Register(fakeFactory{"auth"}))

	f, err := r.Get("articles")
	require.NoError(t, err)
	assert.Equal(t, "articles", f.GetType())
	assert.True(t, r.IsRegistered("auth"))
	assert.Equal(t, 2, r.Count())
	assert.Equal(t, []string{"articles", "auth"}, r.GetAvailableTypes())
}

func TestRegistry_Errors(t *testing.T) {
	r := New[fakeFactory]()
	require.NoError(t, r.Register(fakeFactory{"articles"}))

	err := r.Register(fakeFactory{"articles"})
	assert.True(t, errors.IsType(err, errors.ErrTypeConflict))

	err = r.Register(fakeFactory{""})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	_, err = r.Get("missing")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	assert.Panics(t, func() { r.MustRegister(fakeFactory{"articles"}) })
}
