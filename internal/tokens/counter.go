// Package tokens estimates prompt sizes for the per-client token budget.
package tokens

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// Encoding used for every model; the Llama tokenizers served by Groq are
	// close enough to cl100k_base for budgeting purposes.
	Encoding = "cl100k_base"

	perMessageOverhead = 4
	replyPriming       = 3
)

// Counter counts tokens. It is safe for concurrent use.
//
// Counting never waits on the encoding: until Load has finished, Count
// falls back to Estimate.
type Counter struct {
	load func() (*tiktoken.Tiktoken, error)

	once    sync.Once
	done    chan struct{}
	loadErr error
	encoder atomic.Pointer[tiktoken.Tiktoken]
}

// NewCounter creates a token counter that estimates until Load is called
func NewCounter() *Counter {
	return &Counter{
		load: func() (*tiktoken.Tiktoken, error) { return tiktoken.GetEncoding(Encoding) },
		done: make(chan struct{}),
	}
}

// Load fetches the encoding in the background and waits for it until ctx is
// done. The fetch keeps going after ctx expires, so a later Load can still
// observe it finishing.
func (c *Counter) Load(ctx context.Context) error {
	c.once.Do(func() {
		go func() {
			defer close(c.done)
			enc, err := c.load()
			if err != nil {
				c.loadErr = fmt.Errorf("failed to load %s encoding: %w", Encoding, err)
				return
			}
			c.encoder.Store(enc)
		}()
	})

	select {
	case <-c.done:
		return c.loadErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether counts come from the real encoding
func (c *Counter) Ready() bool {
	return c.encoder.Load() != nil
}

// Count returns the number of tokens in text
func (c *Counter) Count(text string) int {
	enc := c.encoder.Load()
	if enc == nil {
		return Estimate(text)
	}
	return len(enc.Encode(text, nil, nil))
}

// CountPrompt counts a system + user message pair the way chat completion
// APIs bill them.
func (c *Counter) CountPrompt(system, user string) int {
	total := 0
	for _, content := range []string{system, user} {
		total += c.Count(content) + perMessageOverhead
	}
	return total + replyPriming
}

// Estimate provides a rough token estimate (chars/4)
func Estimate(text string) int {
	return (len(text) + 3) / 4
}
