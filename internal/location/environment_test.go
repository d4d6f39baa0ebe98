package location

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

// TestStaticEnvironment tests the fixed classification override.
func TestStaticEnvironment(t *testing.T) {
	assert.True(t, StaticEnvironment(true).Constrained())
	assert.False(t, StaticEnvironment(false).Constrained())
}

// TestHostEnvironment_ConcurrentProbe tests that concurrent callers all
// observe one stable classification. Every dispatched acquisition
// consults the classifier, so this runs from many goroutines at once.
func TestHostEnvironment_ConcurrentProbe(t *testing.T) {
	env := NewHostEnvironment(zerolog.Nop())

	first := env.Constrained()

	var wg sync.WaitGroup
	results := make([]bool, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = env.Constrained()
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, first, got)
	}
}
