package keylock

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockerSerializesKey(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	l := New()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock(ctx, "same")
			v := counter
			v++
			counter = v
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(50, counter)
	assert.Equal(0, l.Len())
}

func TestLockerIndependentKeys(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	l := New()
	unlockA := l.Lock(ctx, "a")
	// a different key must not block
	unlockB := l.Lock(ctx, "b")
	assert.Equal(2, l.Len())
	unlockB()
	unlockA()
	assert.Equal(0, l.Len())
}
