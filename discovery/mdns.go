package discovery

import (
	"context"
	"fmt"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

const (
	// MDNSService is the DNS-SD service type announced over mDNS.
	MDNSService = "_goodluck._tcp"

	// MDNSDomain is the mDNS domain.
	MDNSDomain = "local."
)

// mdnsBackend wraps the zeroconf registration and browse loop. It feeds
// discovered entries into the same peer table as the broadcast listener.
type mdnsBackend struct {
	server *zeroconf.Server
	cancel context.CancelFunc
}

// EnableMDNS registers this device over mDNS on the given transfer port
// and starts browsing for other instances. It complements the broadcast
// protocol on networks where directed broadcasts are filtered. The
// backend stops together with the service.
func (s *Service) EnableMDNS(transferPort int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("discovery service is not running")
	}
	if s.mdns != nil {
		return nil
	}

	server, err := zeroconf.Register(s.name, MDNSService, MDNSDomain,
		transferPort, []string{"name=" + s.name}, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	backend := &mdnsBackend{server: server, cancel: cancel}
	s.mdns = backend

	s.wg.Add(1)
	go s.browseMDNS(ctx)

	logrus.WithFields(logrus.Fields{
		"function": "EnableMDNS",
		"service":  MDNSService,
		"instance": s.name,
	}).Info("mDNS discovery enabled")

	return nil
}

// browseMDNS watches for mDNS instances and records them as peers.
// Resolution failures are retried only on the next call; mDNS is a
// best-effort complement, not the primary path.
func (s *Service) browseMDNS(ctx context.Context) {
	defer s.wg.Done()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "browseMDNS",
			"error":    err.Error(),
		}).Warn("Failed to create mDNS resolver")
		return
	}

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for entry := range entries {
			if entry == nil || len(entry.AddrIPv4) == 0 {
				continue
			}
			ip := entry.AddrIPv4[0]
			if s.isSelf != nil && s.isSelf(ip) {
				continue
			}
			name := entry.Instance
			for _, txt := range entry.Text {
				if len(txt) > 5 && txt[:5] == "name=" {
					name = txt[5:]
				}
			}
			s.recordPeer(ip.String(), name)
		}
	}()

	if err := resolver.Browse(ctx, MDNSService, MDNSDomain, entries); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "browseMDNS",
			"error":    err.Error(),
		}).Warn("mDNS browse failed")
	}

	<-ctx.Done()
}

// shutdown stops registration and browsing.
func (b *mdnsBackend) shutdown() {
	b.cancel()
	if b.server != nil {
		b.server.Shutdown()
	}
}
