package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/eventbus/internal/runtime/config"
	errspkg "github.com/drblury/eventbus/internal/runtime/errors"
)

type fakeTransport struct {
	env Environment
}

func (f *fakeTransport) Start(context.Context) error                { return nil }
func (f *fakeTransport) Publish(context.Context, string, any) error { return nil }
func (f *fakeTransport) RegisterConsumer(string, Handler) error     { return nil }
func (f *fakeTransport) Close() error                               { return nil }
func (f *fakeTransport) Health(context.Context) HealthStatus {
	return HealthStatus{Ready: true, Mode: "fake"}
}

func fakeBuilder(_ context.Context, _ *config.Config, env Environment) (Transport, error) {
	return &fakeTransport{env: env}, nil
}

func TestRegistryBuild(t *testing.T) {
	reg := NewRegistry()
	reg.Register("fake", fakeBuilder)

	tr, err := reg.Build(context.Background(), &config.Config{Mode: "fake"}, Environment{})
	require.NoError(t, err)

	fake, ok := tr.(*fakeTransport)
	require.True(t, ok)
	assert.NotNil(t, fake.env.Logger, "environment defaults are applied")
	assert.NotNil(t, fake.env.Propagator)
	assert.NotNil(t, fake.env.TracerProvider)
	assert.NotNil(t, fake.env.Now)
}

func TestRegistryBuildUnknownMode(t *testing.T) {
	reg := NewRegistry()
	reg.Register("fake", fakeBuilder)

	_, err := reg.Build(context.Background(), &config.Config{Mode: "carrier-pigeon"}, Environment{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errspkg.ErrUnknownMode))
	assert.Contains(t, err.Error(), "carrier-pigeon")
	assert.Contains(t, err.Error(), "fake")
}

func TestRegistryBuildNilConfig(t *testing.T) {
	_, err := NewRegistry().Build(context.Background(), nil, Environment{})
	assert.ErrorIs(t, err, errspkg.ErrConfigRequired)
}

func TestRegistryNamesAndCapabilities(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterWithCapabilities("memory", fakeBuilder, MemoryCapabilities)
	reg.Register("durable", fakeBuilder)

	assert.Equal(t, []string{"durable", "memory"}, reg.Names())
	assert.True(t, reg.Has("memory"))
	assert.False(t, reg.Has("stub"))

	assert.Equal(t, MemoryCapabilities, reg.Capabilities("memory"))
	assert.Equal(t, Capabilities{Name: "durable"}, reg.Capabilities("durable"))
}

func TestDefaultRegistryHelpers(t *testing.T) {
	saved := DefaultRegistry
	t.Cleanup(func() { DefaultRegistry = saved })
	DefaultRegistry = NewRegistry()

	RegisterWithCapabilities("stub", fakeBuilder, StubCapabilities)
	Register("other", fakeBuilder)

	assert.Equal(t, StubCapabilities, GetCapabilities("stub"))
	tr, err := Build(context.Background(), &config.Config{Mode: "other"}, Environment{})
	require.NoError(t, err)
	assert.True(t, tr.Health(context.Background()).Ready)
}
