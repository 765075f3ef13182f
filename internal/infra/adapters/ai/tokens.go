package ai

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates token counts when a provider reports none.
type TokenCounter struct {
	once     sync.Once
	approx   bool
	encoding *tiktoken.Tiktoken
}

func NewTokenCounter() *TokenCounter { return &TokenCounter{} }

// NewApproxTokenCounter never loads an encoding.
func NewApproxTokenCounter() *TokenCounter { return &TokenCounter{approx: true} }

// Count uses the cl100k_base encoding and falls back to four characters per
// token when the encoding cannot be loaded.
func (tc *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	tc.once.Do(func() {
		if tc.approx {
			return
		}
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			tc.encoding = enc
		}
	})
	if tc.encoding == nil {
		return (len(text) + 3) / 4
	}
	return len(tc.encoding.Encode(text, nil, nil))
}
