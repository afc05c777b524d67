package clock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdvanceKeepsMaximum(t *testing.T) {
	c := New()
	c.Advance(Document{TS: Timestamp{T: 42}})
	c.Advance(Document{TS: Timestamp{T: 100}})

	cur, ok := c.Current()
	assert.True(t, ok)
	assert.Equal(t, Timestamp{T: 100}, cur.TS)

	// A lower timestamp never regresses the clock (spec.md §8 scenario 5).
	c.Advance(Document{TS: Timestamp{T: 50}})
	cur, _ = c.Current()
	assert.Equal(t, Timestamp{T: 100}, cur.TS)
}

func TestAdvanceOrderIndependent(t *testing.T) {
	a := Document{TS: Timestamp{T: 7}}
	b := Document{TS: Timestamp{T: 9}}

	c1 := New()
	c1.Advance(a)
	c1.Advance(b)

	c2 := New()
	c2.Advance(b)
	c2.Advance(a)

	got1, _ := c1.Current()
	got2, _ := c2.Current()
	assert.Equal(t, got1.TS, got2.TS)
	assert.Equal(t, Timestamp{T: 9}, got1.TS)
}

func TestAdvanceConcurrentIsMonotone(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := uint32(0); i < 200; i++ {
		wg.Add(1)
		go func(t uint32) {
			defer wg.Done()
			c.Advance(Document{TS: Timestamp{T: t}})
		}(i)
	}
	wg.Wait()

	cur, ok := c.Current()
	assert.True(t, ok)
	assert.Equal(t, uint32(199), cur.TS.T)
}
