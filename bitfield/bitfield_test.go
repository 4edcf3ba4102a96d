package bitfield

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAllUnset(t *testing.T) {
	bf := New(10)
	for i := 0; i < 10; i++ {
		assert.False(t, bf.Has(i))
	}
}

func TestSetAndHas(t *testing.T) {
	bf := New(10)
	bf.Set(3)
	bf.Set(9)
	assert.True(t, bf.Has(3))
	assert.True(t, bf.Has(9))
	assert.False(t, bf.Has(4))
}

func TestSetBeyondInitialCapacityGrows(t *testing.T) {
	bf := New(4)
	bf.Set(20)
	assert.True(t, bf.Has(20))
}

func TestHasOutOfRangeIsFalse(t *testing.T) {
	bf := New(4)
	assert.False(t, bf.Has(-1))
	assert.False(t, bf.Has(100))
}

func TestFromBytesRoundTrip(t *testing.T) {
	bf := New(10)
	bf.Set(0)
	bf.Set(9)
	data := bf.Bytes()

	bf2 := FromBytes(data, 10)
	assert.True(t, bf2.Has(0))
	assert.True(t, bf2.Has(9))
	assert.False(t, bf2.Has(1))
}

func TestBytesLength(t *testing.T) {
	bf := New(17)
	assert.Len(t, bf.Bytes(), 3) // ceil(17/8)
}

func TestSetDoesNotAffectOtherIndices(t *testing.T) {
	bf := New(8)
	bf.Set(3)
	for i := 0; i < 8; i++ {
		assert.Equal(t, i == 3, bf.Has(i))
	}
}
