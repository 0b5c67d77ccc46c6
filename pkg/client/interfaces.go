package client

import "context"

// Tokens is the token API of one account.
// Consuming projects should depend on this interface rather than *Client
// to enable testing with mock implementations.
type Tokens interface {
	CheckToken(ctx context.Context) (*Status, error)
	FetchToken(ctx context.Context) (*Token, error)
	VerifyToken(ctx context.Context, token string) (*Status, error)
}

// Compile-time check that *Client implements Tokens.
var _ Tokens = (*Client)(nil)
