package dialog

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter reports the number of tokens a prompt encodes to.
type TokenCounter interface {
	Count(text string) (int, error)
}

type tiktokenCounter struct {
	once  sync.Once
	codec tokenizer.Codec
	err   error
}

// NewTokenCounter returns a counter backed by the cl100k_base encoding. The
// codec is loaded on first use.
func NewTokenCounter() TokenCounter {
	return &tiktokenCounter{}
}

func (c *tiktokenCounter) Count(text string) (int, error) {
	c.once.Do(func() {
		c.codec, c.err = tokenizer.Get(tokenizer.Cl100kBase)
	})
	if c.err != nil {
		return 0, errors.Wrap(c.err, "load tokenizer")
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return 0, errors.Wrap(err, "encode prompt")
	}
	return len(ids), nil
}

// HeuristicCounter estimates tokens at four characters each.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) (int, error) {
	n := len([]rune(text))
	return (n + charsPerToken - 1) / charsPerToken, nil
}
