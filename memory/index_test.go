package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectionIndex(t *testing.T) {
	x := newCollectionIndex()
	x.put("a", "mem0_alice")
	x.put("b", "mem0_alice")
	x.put("c", "mem0_bob")

	name, ok := x.get("a")
	assert.True(t, ok)
	assert.Equal(t, "mem0_alice", name)
	assert.Equal(t, 3, x.len())

	x.remove("a")
	_, ok = x.get("a")
	assert.False(t, ok)

	assert.Equal(t, 1, x.purge("mem0_alice"))
	assert.Equal(t, 1, x.len())
	_, ok = x.get("c")
	assert.True(t, ok)
}
