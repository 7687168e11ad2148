// Package discovery implements local network peer discovery via UDP
// broadcast. A listener records peers from tagged announce/response
// datagrams and answers announcements with its own name; a prober sends a
// short broadcast burst and captures replies for a bounded window. An
// optional mDNS backend complements the broadcast protocol on networks
// that filter directed broadcasts.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/OgboiEhioma/goodluck-sharing/limits"
)

const (
	// DefaultPort is the well-known UDP discovery port.
	DefaultPort = 5000

	// announcePrefix tags a datagram requesting a response.
	announcePrefix = "GOODLUCK_DISCOVERY:"

	// responsePrefix tags a response-only datagram. Responses are recorded
	// but never answered, which prevents infinite ping-pong.
	responsePrefix = "GOODLUCK_RESPONSE:"

	// probeRepeats and probeSpacing shape the broadcast burst.
	probeRepeats = 3
	probeSpacing = 500 * time.Millisecond

	// DefaultCaptureWindow is how long Probe keeps waiting for late
	// responses after the burst finishes.
	DefaultCaptureWindow = 3 * time.Second

	// receiveDeadline bounds each blocking read so the listener can
	// observe its stop signal.
	receiveDeadline = 1 * time.Second
)

// Peer is a device reachable for file transfer, keyed by address. The
// newest announcement from the same address supersedes older ones.
type Peer struct {
	Address     string
	DisplayName string
	LastSeen    time.Time
}

// announcement is the JSON payload carried by both datagram kinds.
type announcement struct {
	Name string `json:"name"`
}

// Service handles peer discovery over UDP broadcast.
type Service struct {
	name     string
	port     int
	conn     net.PacketConn
	peers    map[string]Peer
	onPeer   func(Peer)
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	isSelf   func(ip net.IP) bool
	now      func() time.Time

	mdns *mdnsBackend
}

// NewService creates a discovery service announcing the given device name
// on the given UDP port. Port 0 binds an ephemeral port.
func NewService(name string, port int) *Service {
	if port < 0 {
		port = DefaultPort
	}
	return &Service{
		name:     name,
		port:     port,
		peers:    make(map[string]Peer),
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

// OnPeer registers a callback invoked whenever a peer is recorded or
// refreshed. The callback runs on the listener goroutine and must not
// block.
func (s *Service) OnPeer(callback func(Peer)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPeer = callback
}

// Start binds the discovery socket and begins listening for datagrams.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	conn, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", s.port))
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Start",
			"port":     s.port,
			"error":    err.Error(),
		}).Error("Failed to bind discovery socket")
		return fmt.Errorf("failed to bind discovery socket: %w", err)
	}

	s.conn = conn
	s.running = true
	s.stopChan = make(chan struct{})
	if s.isSelf == nil {
		s.isSelf = localAddressChecker()
	}

	s.wg.Add(1)
	go s.receiveLoop()

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"port":     s.port,
		"name":     s.name,
	}).Info("Discovery listener started")

	return nil
}

// Stop halts the listener and any mDNS backend.
func (s *Service) Stop() {
	s.mu.Lock()

	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false

	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	mdns := s.mdns
	s.mdns = nil
	s.mu.Unlock()

	if mdns != nil {
		mdns.shutdown()
	}
	s.wg.Wait()

	logrus.WithField("function", "Stop").Info("Discovery listener stopped")
}

// IsRunning reports whether the listener is active.
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// LocalAddr returns the bound discovery address, or nil when stopped.
func (s *Service) LocalAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Peers returns a consistent snapshot of the peer table sorted by address.
func (s *Service) Peers() []Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peers := make([]Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Address < peers[j].Address })
	return peers
}

// ClearPeers discards the peer table. Callers typically clear before a new
// discovery round so stale devices drop out.
func (s *Service) ClearPeers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers = make(map[string]Peer)
}

// Probe broadcasts the announcement burst and then waits out the capture
// window so late responses still land in the peer table. Send failures are
// non-fatal; discovery degrades to an empty peer table rather than
// erroring out.
func (s *Service) Probe(ctx context.Context) error {
	s.mu.RLock()
	conn := s.conn
	running := s.running
	s.mu.RUnlock()

	if !running || conn == nil {
		return fmt.Errorf("discovery service is not running")
	}

	payload, err := json.Marshal(announcement{Name: s.name})
	if err != nil {
		return fmt.Errorf("failed to encode announcement: %w", err)
	}
	message := []byte(announcePrefix + string(payload))
	targets := broadcastAddrs(s.port)

	logrus.WithFields(logrus.Fields{
		"function": "Probe",
		"targets":  len(targets),
	}).Debug("Starting discovery broadcast burst")

	for i := 0; i < probeRepeats; i++ {
		for _, addr := range targets {
			if _, err := conn.WriteTo(message, addr); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Probe",
					"target":   addr.String(),
					"error":    err.Error(),
				}).Debug("Discovery broadcast failed")
			}
		}
		select {
		case <-time.After(probeSpacing):
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopChan:
			return nil
		}
	}

	// Responses keep arriving after the burst; hold the window open.
	select {
	case <-time.After(DefaultCaptureWindow):
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopChan:
	}

	logrus.WithFields(logrus.Fields{
		"function": "Probe",
		"peers":    len(s.Peers()),
	}).Info("Discovery round complete")

	return nil
}

// receiveLoop listens for incoming discovery datagrams.
func (s *Service) receiveLoop() {
	defer s.wg.Done()

	buffer := make([]byte, limits.MaxDatagramSize)

	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(s.now().Add(receiveDeadline))
		n, addr, err := conn.ReadFrom(buffer)
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
				continue
			}
		}

		s.handleDatagram(buffer[:n], addr)
	}
}

// handleDatagram parses one discovery datagram. Malformed datagrams are
// dropped silently.
func (s *Service) handleDatagram(data []byte, addr net.Addr) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return
	}
	if s.isSelf != nil && s.isSelf(udpAddr.IP) {
		return
	}

	msg := string(data)
	switch {
	case strings.HasPrefix(msg, announcePrefix):
		info, err := parseAnnouncement(msg[len(announcePrefix):], udpAddr)
		if err != nil {
			return
		}
		s.recordPeer(udpAddr.IP.String(), info.Name)
		s.reply(addr)

	case strings.HasPrefix(msg, responsePrefix):
		info, err := parseAnnouncement(msg[len(responsePrefix):], udpAddr)
		if err != nil {
			return
		}
		s.recordPeer(udpAddr.IP.String(), info.Name)

	default:
		logrus.WithFields(logrus.Fields{
			"function": "handleDatagram",
			"from":     addr.String(),
		}).Debug("Dropped unrecognized discovery datagram")
	}
}

// parseAnnouncement decodes the JSON payload of a tagged datagram.
func parseAnnouncement(payload string, from *net.UDPAddr) (*announcement, error) {
	var info announcement
	if err := json.Unmarshal([]byte(payload), &info); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "parseAnnouncement",
			"from":     from.String(),
		}).Debug("Dropped malformed discovery payload")
		return nil, err
	}
	if info.Name == "" {
		info.Name = "Unknown-" + from.IP.String()
	}
	return &info, nil
}

// reply answers an announcement with a response-only datagram. Failures
// are swallowed; the peer will hear us on its next probe.
func (s *Service) reply(addr net.Addr) {
	s.mu.RLock()
	conn := s.conn
	name := s.name
	s.mu.RUnlock()
	if conn == nil {
		return
	}

	payload, err := json.Marshal(announcement{Name: name})
	if err != nil {
		return
	}
	if _, err := conn.WriteTo([]byte(responsePrefix+string(payload)), addr); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "reply",
			"to":       addr.String(),
			"error":    err.Error(),
		}).Debug("Failed to answer discovery announcement")
	}
}

// recordPeer creates or refreshes a peer table entry and notifies the
// registered callback.
func (s *Service) recordPeer(address, name string) {
	s.mu.Lock()
	peer := Peer{
		Address:     address,
		DisplayName: name,
		LastSeen:    s.now(),
	}
	s.peers[address] = peer
	callback := s.onPeer
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "recordPeer",
		"peer":     address,
		"name":     name,
	}).Info("Discovered peer")

	if callback != nil {
		callback(peer)
	}
}

// broadcastAddrs returns the subnet broadcast addresses of all up IPv4
// interfaces plus the limited broadcast address.
func broadcastAddrs(port int) []net.Addr {
	seen := map[string]bool{}
	addrs := []net.Addr{&net.UDPAddr{IP: net.IPv4bcast, Port: port}}
	seen[net.IPv4bcast.String()] = true

	ifaces, err := net.Interfaces()
	if err != nil {
		return addrs
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		ifaceAddrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range ifaceAddrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			bcast := make(net.IP, 4)
			mask := ipNet.Mask
			if len(mask) == 16 {
				mask = mask[12:]
			}
			for i := 0; i < 4; i++ {
				bcast[i] = ip4[i] | ^mask[i]
			}
			if !seen[bcast.String()] {
				seen[bcast.String()] = true
				addrs = append(addrs, &net.UDPAddr{IP: bcast, Port: port})
			}
		}
	}
	return addrs
}

// localAddressChecker builds the self-filter used to ignore our own
// broadcasts.
func localAddressChecker() func(ip net.IP) bool {
	local := map[string]bool{}
	if ifaceAddrs, err := net.InterfaceAddrs(); err == nil {
		for _, a := range ifaceAddrs {
			if ipNet, ok := a.(*net.IPNet); ok {
				local[ipNet.IP.String()] = true
			}
		}
	}
	return func(ip net.IP) bool {
		return local[ip.String()]
	}
}
