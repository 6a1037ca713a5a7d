package batch

import "sync/atomic"

// TokenStore holds the sequence token for one stream. Only flush cycles write it.
type TokenStore struct {
	token atomic.Pointer[string]
}

func NewTokenStore(initial *string) *TokenStore {
	s := &TokenStore{}
	s.Set(initial)
	return s
}

func (s *TokenStore) Get() *string {
	return s.token.Load()
}

// Set stores a copy of token; nil clears it.
func (s *TokenStore) Set(token *string) {
	if token == nil {
		s.token.Store(nil)
		return
	}
	v := *token
	s.token.Store(&v)
}
