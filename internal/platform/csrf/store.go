package csrf

import (
	"context"
	"time"
)

// Entry is the live token for one session key.
type Entry struct {
	Token    string    `json:"token"`
	IssuedAt time.Time `json:"issuedAt"`
}

// TokenStore holds at most one Entry per session key. Put overwrites.
type TokenStore interface {
	Put(ctx context.Context, sessionKey string, e Entry) error
	Get(ctx context.Context, sessionKey string) (Entry, bool, error)
	// Sweep removes entries issued before olderThan and reports how many
	// were removed.
	Sweep(ctx context.Context, olderThan time.Time) (int, error)
	Len() int
}
