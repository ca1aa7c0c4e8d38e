package registry

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMessage struct {
	Value uint32
}

var testMessageTypeID = uuid.MustParse("9eddbf56-8cba-4962-9769-dcc84f1eefae")

func (testMessage) TypeID() uuid.UUID { return testMessageTypeID }

func encodeTestMessage(m testMessage) ([]byte, error) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, m.Value)
	return buf, nil
}

func decodeTestMessage(data []byte) (testMessage, int, error) {
	return testMessage{Value: binary.BigEndian.Uint32(data)}, 4, nil
}

type otherMessage struct{ Flag bool }

func (otherMessage) TypeID() uuid.UUID {
	return uuid.MustParse("11111111-1111-1111-1111-111111111111")
}

func TestRegisterAndLookupAgree(t *testing.T) {
	r := New()
	require.NoError(t, Register[testMessage](r, encodeTestMessage, decodeTestMessage))

	byType, ok := LookupByProcessType[testMessage](r)
	require.True(t, ok)

	byID, ok := r.LookupByTypeID(testMessageTypeID)
	require.True(t, ok)

	assert.Same(t, byType, byID)
	assert.True(t, r.Contains(testMessageTypeID))
}

func TestRegisterRejectsDuplicateTypeID(t *testing.T) {
	r := New()
	require.NoError(t, Register[testMessage](r, encodeTestMessage, decodeTestMessage))

	err := Register[testMessage](r, encodeTestMessage, decodeTestMessage)
	assert.ErrorIs(t, err, ErrDuplicateTypeID)

	// the earlier registration still stands
	assert.True(t, r.Contains(testMessageTypeID))
}

func TestDispatchInvokesObserversInOrder(t *testing.T) {
	r := New()
	require.NoError(t, Register[testMessage](r, encodeTestMessage, decodeTestMessage))

	var mu sync.Mutex
	var order []int

	require.NoError(t, InstallObserver(r, func(m testMessage) {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		assert.Equal(t, uint32(7), m.Value)
	}))
	require.NoError(t, InstallObserver(r, func(m testMessage) {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	}))

	payload, err := encodeTestMessage(testMessage{Value: 7})
	require.NoError(t, err)

	require.NoError(t, r.Dispatch(testMessageTypeID, payload))
	assert.Equal(t, []int{1, 2}, order)
}

func TestDispatchWithoutObserversIsNoopSuccess(t *testing.T) {
	r := New()
	require.NoError(t, Register[testMessage](r, encodeTestMessage, decodeTestMessage))

	payload, err := encodeTestMessage(testMessage{Value: 1})
	require.NoError(t, err)

	assert.NoError(t, r.Dispatch(testMessageTypeID, payload))
}

func TestDispatchUnknownTypeIDIsNonFatal(t *testing.T) {
	r := New()
	err := r.Dispatch(uuid.New(), []byte{})
	assert.ErrorIs(t, err, ErrUnknownTypeID)
}

func TestLookupByRuntimeValue(t *testing.T) {
	r := New()
	require.NoError(t, Register[testMessage](r, encodeTestMessage, decodeTestMessage))
	require.NoError(t, Register[otherMessage](r,
		func(otherMessage) ([]byte, error) { return []byte{0}, nil },
		func([]byte) (otherMessage, int, error) { return otherMessage{}, 1, nil },
	))

	codec, ok := r.LookupByRuntimeValue(testMessage{Value: 3})
	require.True(t, ok)
	assert.Equal(t, testMessageTypeID, codec.TypeID())
}

func TestInstallObserverUnknownTypeFails(t *testing.T) {
	r := New()
	err := InstallObserver(r, func(testMessage) {})
	assert.ErrorIs(t, err, ErrUnknownTypeID)
}
