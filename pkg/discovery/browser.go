package discovery

import (
	"context"
	"time"
)

// Browser finds peers on the local network.
type Browser interface {
	// Browse streams services as they are resolved. The channel is closed
	// when ctx ends or the browser is stopped.
	Browse(ctx context.Context) (<-chan *Service, error)

	// Find returns the first EDHOC-capable service with the given instance
	// name, or the first one at all when instance is empty.
	Find(ctx context.Context, instance string) (*Service, error)

	// Stop ends every active browse.
	Stop()
}

// Advertiser announces a local peer.
type Advertiser interface {
	Advertise(ctx context.Context, info *ServiceInfo) error
	Stop()
}

// BrowserConfig configures browsing.
type BrowserConfig struct {
	// BrowseTimeout bounds Find when ctx has no deadline.
	BrowseTimeout time.Duration

	// Interface restricts browsing to one network interface. Empty means
	// all interfaces.
	Interface string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{BrowseTimeout: DefaultBrowseTimeout}
}

// AdvertiserConfig configures advertising.
type AdvertiserConfig struct {
	// TTL of the published records. Zero uses the library default.
	TTL time.Duration

	// Interface restricts advertising to one network interface.
	Interface string
}
