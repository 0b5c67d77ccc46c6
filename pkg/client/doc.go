// Package client talks to a tokenslot server on behalf of one account.
//
// # Quick Start
//
//	c, err := client.New("https://tokens.example.com", "alice", "secret")
//	if err != nil {
//	    return err
//	}
//
//	status, err := c.CheckToken(ctx)
//	if err != nil {
//	    return err
//	}
//	if !status.Valid {
//	    token, err := c.FetchToken(ctx)
//	    ...
//	    // token.Value is shown once; the server keeps only its hash
//	}
//
// # Error Handling
//
//	_, err := c.FetchToken(ctx)
//	switch {
//	case errors.Is(err, client.ErrTokenStillValid):
//	    // current token has not expired yet
//	case errors.Is(err, client.ErrUnavailable):
//	    // server could not obtain a token, retry later
//	case errors.Is(err, client.ErrUnauthorized):
//	    // wrong credentials
//	}
//
// # Testing
//
// Depend on the Tokens interface rather than *Client so tests can swap in
// a fake.
package client
