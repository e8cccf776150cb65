package kvstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ardalan-k/raftkv/raft"
)

func apply(t *testing.T, s *Store, command string) Result {
	t.Helper()
	res, ok := s.Apply(&raft.Operation{Bytes: []byte(command)}).(Result)
	require.True(t, ok)
	return res
}

func TestSetThenGet(t *testing.T) {
	s := New()
	setResult := apply(t, s, "SET k v1")
	require.True(t, setResult.Found)
	require.Equal(t, "v1", setResult.Value)

	getResult := apply(t, s, "GET k")
	require.True(t, getResult.Found)
	require.Equal(t, "v1", getResult.Value)
}

func TestGetMissingKey(t *testing.T) {
	s := New()
	result := apply(t, s, "GET missing")
	require.False(t, result.Found)
	require.Empty(t, result.Value)
}

func TestSetOverwritesPreviousValue(t *testing.T) {
	s := New()
	apply(t, s, "SET k v1")
	apply(t, s, "SET k v2")
	result := apply(t, s, "GET k")
	require.True(t, result.Found)
	require.Equal(t, "v2", result.Value)
}

func TestValueMayContainSpaces(t *testing.T) {
	s := New()
	apply(t, s, "SET greeting hello there world")
	result := apply(t, s, "GET greeting")
	require.Equal(t, "hello there world", result.Value)
}

func TestNoOpHasNoStateMachineEffect(t *testing.T) {
	s := New()
	result := s.Apply(&raft.Operation{Bytes: []byte("NO-OP")})
	require.Nil(t, result)
	require.Equal(t, 0, s.Len())
}

func TestDirectGetAccessor(t *testing.T) {
	s := New()
	apply(t, s, "SET k v")
	value, ok := s.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", value)

	_, ok = s.Get("missing")
	require.False(t, ok)
}
