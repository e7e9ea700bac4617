// Package torrentcore is the Engine: the torrent-level
// orchestrator that owns Storage, the PieceScheduler, the TrackerClient,
// and the set of PeerSessions for each added torrent.
package torrentcore

import (
	"crypto/rand"
	"fmt"
	"net"
	"sync"

	"github.com/anacrolix/log"
	async "github.com/anacrolix/sync"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/kestrel-dev/torrentcore/metainfo"
	"github.com/kestrel-dev/torrentcore/scheduler"
	"github.com/kestrel-dev/torrentcore/tracker"
)

// Bep20 is the conventional peer-id client-version prefix. Any 20-byte
// value is acceptable to the wire protocol; this is cosmetic.
const Bep20 = "-KC0001-"

// ClientConfig is a flat, mutable-before-use configuration struct for
// Client construction.
type ClientConfig struct {
	// DataDir is where downloaded torrent data is stored unless a
	// torrent's own directory override is set.
	DataDir string `arg:"--data-dir" help:"directory to store downloaded torrent data"`

	ListenPort int `arg:"--listen-port" help:"TCP port to accept incoming peer connections on"`

	// PeerID is this client's 20-byte identity; if empty one is
	// generated randomly with the Bep20 prefix.
	PeerID string

	MaxPeersPerTorrent int `arg:"--max-peers" help:"maximum simultaneous peer sessions per torrent"`

	Scheduler scheduler.Config

	UploadRateLimiter   *rate.Limiter
	DownloadRateLimiter *rate.Limiter

	ResumeDBPath string `arg:"--resume-db" help:"path to the resume state database"`

	Identity IdentityProvider

	Logger log.Logger
}

// DefaultClientConfig returns the engine's conventional defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxPeersPerTorrent: 50,
		Scheduler:          scheduler.DefaultConfig(),
		Logger:             log.Default,
	}
}

// Client owns every Torrent added to it, the tracker HTTP client, and
// (optionally) a resume store.
type Client struct {
	cfg            ClientConfig
	peerID         [20]byte
	advertisedPort int

	trackerClient *tracker.Client
	resume        *ResumeStore

	mu       async.Mutex
	torrents map[metainfo.Hash]*Torrent

	listener net.Listener
	logger   log.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient constructs a Client from cfg, opening the resume store and
// listener (if ListenPort is nonzero) eagerly.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.MaxPeersPerTorrent == 0 {
		cfg.MaxPeersPerTorrent = 50
	}

	c := &Client{
		cfg:           cfg,
		trackerClient: tracker.NewClient(),
		torrents:      make(map[metainfo.Hash]*Torrent),
		logger:        cfg.Logger,
		closed:        make(chan struct{}),
	}
	c.peerID = resolvePeerID(cfg)
	c.advertisedPort = cfg.ListenPort

	if cfg.Identity != nil {
		c.trackerClient.Hook = cfg.Identity.WrapAnnounceRequest
		c.advertisedPort = cfg.Identity.ListenPort()
	}

	if cfg.ResumeDBPath != "" {
		store, err := OpenResumeStore(cfg.ResumeDBPath)
		if err != nil {
			return nil, wrapErr(KindStorageIO, err)
		}
		c.resume = store
	}

	if cfg.ListenPort != 0 {
		l, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.ListenPort))
		if err != nil {
			return nil, errors.WithStack(err)
		}
		c.listener = l
		go c.acceptLoop()
	}

	return c, nil
}

func resolvePeerID(cfg ClientConfig) [20]byte {
	var id [20]byte
	if cfg.Identity != nil {
		return cfg.Identity.PeerID()
	}
	if cfg.PeerID != "" {
		copy(id[:], cfg.PeerID)
		return id
	}
	copy(id[:], Bep20)
	if _, err := rand.Read(id[len(Bep20):]); err != nil {
		// crypto/rand.Read only fails if the OS source is broken beyond
		// recovery; there is nothing sensible to do but proceed with
		// whatever partial randomness was written.
		return id
	}
	return id
}

func (c *Client) acceptLoop() {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
			}
			c.logger.Levelf(log.Error, "accept error: %v", err)
			return
		}
		go c.handleInbound(conn)
	}
}

func (c *Client) handleInbound(conn net.Conn) {
	// An inbound connection doesn't know which torrent it's for until
	// the handshake's info hash arrives; Client.acceptHandshake
	// resolves it against c.torrents.
	ps, t, err := c.acceptHandshake(conn)
	if err != nil {
		c.logger.Levelf(log.Warning, "inbound handshake from %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	t.addInboundSession(ps)
}

// AddTorrent registers a torrent for download/seeding under the
// client's DataDir (or dir if non-empty) and starts its announce
// clock.
func (c *Client) AddTorrent(mi *metainfo.MetaInfo, dir string) (*Torrent, error) {
	if dir == "" {
		dir = c.cfg.DataDir
	}
	c.mu.Lock()
	if existing, ok := c.torrents[mi.InfoHash]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.mu.Unlock()

	t, err := newTorrent(c, mi, dir)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.torrents[mi.InfoHash] = t
	c.mu.Unlock()

	t.start()
	return t, nil
}

// Torrent returns the torrent for infoHash, if one has been added.
func (c *Client) Torrent(infoHash metainfo.Hash) (*Torrent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.torrents[infoHash]
	return t, ok
}

// Close stops every torrent, closes the listener and resume store.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.listener != nil {
			c.listener.Close()
		}
	})
	c.mu.Lock()
	torrents := make([]*Torrent, 0, len(c.torrents))
	for _, t := range c.torrents {
		torrents = append(torrents, t)
	}
	c.mu.Unlock()
	for _, t := range torrents {
		t.Stop()
	}
	if c.resume != nil {
		return c.resume.Close()
	}
	return nil
}
