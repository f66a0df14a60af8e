package core

import "context"

// Client describes the caller of an ingestion request as seen by the transport.
type Client struct {
	IP        string
	UserAgent string
}

type clientKey struct{}

// WithClient attaches caller details used in log lines and ingestion events.
func WithClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, clientKey{}, c)
}

// ClientFromContext returns the caller details, or the zero Client when the
// request did not come through the HTTP layer.
func ClientFromContext(ctx context.Context) Client {
	c, _ := ctx.Value(clientKey{}).(Client)
	return c
}
