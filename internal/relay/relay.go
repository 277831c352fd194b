// Package relay makes locally stored artifacts reachable by a delivery
// transport that cannot read this host's filesystem.
package relay

import "context"

// Relay transfers a local file and returns the reference the transport should
// use instead of the local path.
type Relay interface {
	Transfer(ctx context.Context, localPath string) (string, error)
	Name() string
}
