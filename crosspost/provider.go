// Package crosspost mirrors new-panel announcements to a secondary destination.
package crosspost

import "context"

// Provider defines the interface for cross-post implementations.
type Provider interface {
	// Send delivers the already formatted announcement text.
	Send(ctx context.Context, content string) error
}
