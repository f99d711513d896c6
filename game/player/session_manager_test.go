package player

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRegister_DisplacesOldSession(t *testing.T) {
	sm := NewSessionManager(zap.NewNop())

	s1 := NewPlayerSession("7", 7, nil, zap.NewNop())
	s2 := NewPlayerSession("7", 7, nil, zap.NewNop())

	sm.Register(s1)
	sm.Register(s2)

	assert.True(t, s1.IsClosed(), "displaced session must be closed")
	assert.Same(t, s2, sm.Get("7"))
	assert.Equal(t, 1, sm.Count())
}

func TestUnregister_OnlyRemovesOwnSession(t *testing.T) {
	sm := NewSessionManager(zap.NewNop())

	s1 := NewPlayerSession("7", 7, nil, zap.NewNop())
	s2 := NewPlayerSession("7", 7, nil, zap.NewNop())
	sm.Register(s1)
	sm.Register(s2)

	// The displaced session's teardown must not evict the live one.
	assert.False(t, sm.Unregister(s1))
	assert.True(t, sm.IsOnline("7"))
	assert.Same(t, s2, sm.Get("7"))

	assert.True(t, sm.Unregister(s2))
	assert.False(t, sm.IsOnline("7"))

	// Double unregister is a no-op.
	assert.False(t, sm.Unregister(s2))
}
