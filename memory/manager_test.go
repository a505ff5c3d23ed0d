package memory

import (
	"testing"

	"github.com/colorfulnotion/replay/replayerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		ConstantBase:     DefaultConstantBase,
		VolatileBase:     DefaultVolatileBase,
		VolatileSize:     16,
		VolatileCapacity: 32,
	})
	require.NoError(t, err)
	require.NoError(t, m.SetConstantMemory([]byte{1, 2, 3, 4}))
	return m
}

func TestClassification(t *testing.T) {
	m := newTestManager(t)
	c := m.ConstantToAbsolute(0)
	v := m.VolatileToAbsolute(0)

	assert.True(t, m.IsConstantAddressWithSize(c, 4))
	assert.False(t, m.IsConstantAddressWithSize(c+1, 4))
	assert.True(t, m.IsConstantAddress(c+3))
	assert.False(t, m.IsConstantAddress(v))

	assert.True(t, m.IsVolatileAddressWithSize(v+8, 8))
	assert.False(t, m.IsVolatileAddressWithSize(v+16, 1), "capacity beyond the reservation is not volatile yet")

	assert.False(t, m.IsNotObservedAbsoluteAddress(c))
	assert.False(t, m.IsNotObservedAbsoluteAddress(v+15))
	assert.True(t, m.IsNotObservedAbsoluteAddress(v+16))
	assert.True(t, m.IsNotObservedAbsoluteAddress(0x1234))
}

func TestReadWrite(t *testing.T) {
	m := newTestManager(t)
	v := m.VolatileToAbsolute(4)
	require.NoError(t, m.Write(v, []byte{9, 8}))
	b, err := m.Read(v, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 8}, b)

	assert.ErrorIs(t, m.Write(m.ConstantToAbsolute(0), []byte{0}), replayerrors.ErrAConstantWrite)
	_, err = m.Read(m.VolatileToAbsolute(12), 8)
	assert.ErrorIs(t, err, replayerrors.ErrAOutOfRange)
	_, err = m.Read(0x1234, 1)
	assert.ErrorIs(t, err, replayerrors.ErrAUnobservedAddress)
}

func TestExtendVolatile(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.ExtendVolatile(16))
	assert.Equal(t, uint32(32), m.VolatileSize())
	assert.True(t, m.IsVolatileAddressWithSize(m.VolatileToAbsolute(24), 8))
	assert.ErrorIs(t, m.ExtendVolatile(1), replayerrors.ErrAVolatileExhausted)
}

func TestMap(t *testing.T) {
	m := newTestManager(t)
	buf, err := m.Map(0x8000, 16)
	require.NoError(t, err)
	assert.False(t, m.IsNotObservedAbsoluteAddress(0x800f))
	require.NoError(t, m.Write(0x8004, []byte{7}))
	assert.Equal(t, byte(7), buf[4])

	_, err = m.Map(0x8008, 16)
	assert.Error(t, err, "overlapping mapping")
	_, err = m.Map(DefaultVolatileBase+4, 4)
	assert.Error(t, err)

	assert.True(t, m.Unmap(0x8000))
	assert.True(t, m.IsNotObservedAbsoluteAddress(0x8004))
	assert.False(t, m.Unmap(0x8000))
}

func TestNewManagerRejectsNullBases(t *testing.T) {
	_, err := NewManager(Config{VolatileBase: DefaultVolatileBase})
	assert.Error(t, err)
}
