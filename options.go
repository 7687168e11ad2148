package goodluck

import (
	"fmt"
	"os"
	"time"

	"github.com/OgboiEhioma/goodluck-sharing/discovery"
	"github.com/OgboiEhioma/goodluck-sharing/limits"
	"github.com/OgboiEhioma/goodluck-sharing/scheduler"
	"github.com/OgboiEhioma/goodluck-sharing/transfer"
)

// DefaultTransferPort is the well-known TCP port for inbound transfers.
const DefaultTransferPort = 5001

// Options configures an Engine. Use NewOptions for defaults and adjust
// fields before passing the result to New.
type Options struct {
	// DeviceName is announced to peers during discovery. Defaults to the
	// host name.
	DeviceName string

	// DiscoveryPort is the UDP port for broadcast discovery.
	DiscoveryPort int

	// TransferPort is the TCP port the receiver listens on. Port 0 binds
	// an ephemeral port.
	TransferPort int

	// DownloadDir receives incoming files.
	DownloadDir string

	// StateDir holds persisted state such as the duplicate index.
	StateDir string

	// MaxConcurrentTransfers bounds simultaneous outbound sessions.
	MaxConcurrentTransfers int

	// ChunkSize is the read/write unit for file streaming. Pause and
	// cancel take effect at chunk boundaries.
	ChunkSize int

	// DialTimeout bounds the TCP connect to a peer.
	DialTimeout time.Duration

	// IOTimeout bounds each chunk read or write on an open session.
	IOTimeout time.Duration

	// MDNSEnabled additionally announces and browses over mDNS.
	MDNSEnabled bool
}

// NewOptions returns options with sensible defaults for LAN use.
func NewOptions() *Options {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "goodluck-device"
	}
	return &Options{
		DeviceName:             name,
		DiscoveryPort:          discovery.DefaultPort,
		TransferPort:           DefaultTransferPort,
		DownloadDir:            "received_files",
		StateDir:               ".",
		MaxConcurrentTransfers: scheduler.DefaultWorkers,
		ChunkSize:              limits.DefaultChunkSize,
		DialTimeout:            transfer.DefaultDialTimeout,
		IOTimeout:              transfer.DefaultIOTimeout,
	}
}

// Validate checks the options for internal consistency.
func (o *Options) Validate() error {
	if o.DeviceName == "" {
		return fmt.Errorf("device name is required")
	}
	if o.DownloadDir == "" {
		return fmt.Errorf("download directory is required")
	}
	if o.StateDir == "" {
		return fmt.Errorf("state directory is required")
	}
	if o.DiscoveryPort < 0 || o.DiscoveryPort > 65535 {
		return fmt.Errorf("discovery port %d out of range", o.DiscoveryPort)
	}
	if o.TransferPort < 0 || o.TransferPort > 65535 {
		return fmt.Errorf("transfer port %d out of range", o.TransferPort)
	}
	if err := limits.ValidateConcurrency(o.MaxConcurrentTransfers); err != nil {
		return err
	}
	if err := limits.ValidateChunkSize(o.ChunkSize); err != nil {
		return err
	}
	if o.DialTimeout <= 0 || o.IOTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}
