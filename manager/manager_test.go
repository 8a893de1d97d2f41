package manager

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orchaframework/orcha/petition"
)

type fakePetition struct {
	petition.Base
}

func (f *fakePetition) Action() error            { return nil }
func (f *fakePetition) Terminate() (bool, error) { return true, nil }

func TestBase_TracksRunningSet(t *testing.T) {
	b := NewBase()
	p := &fakePetition{Base: petition.NewBase("x", 1, nil)}

	require.Empty(t, b.Running())
	require.True(t, b.OnStart(p))
	require.Equal(t, []string{"x"}, b.Running())

	b.OnFinish(p)
	require.Empty(t, b.Running())
}
