package torrentcore

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/log"
	async "github.com/anacrolix/sync"

	"github.com/kestrel-dev/torrentcore/metainfo"
	"github.com/kestrel-dev/torrentcore/peer_protocol"
	"github.com/kestrel-dev/torrentcore/scheduler"
	"github.com/kestrel-dev/torrentcore/storage"
	"github.com/kestrel-dev/torrentcore/swarm"
	"github.com/kestrel-dev/torrentcore/tracker"
)

// State is a torrent's lifecycle stage.
type State int32

const (
	StateStarting State = iota
	StateDownloading
	StateSeeding
	StatePaused
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateDownloading:
		return "downloading"
	case StateSeeding:
		return "seeding"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

const sessionLimit = 50

// Torrent is one swarm's worth of state: its metainfo, storage, piece
// scheduler, tracker announce clock, and connected peer sessions.
type Torrent struct {
	client   *Client
	mi       *metainfo.MetaInfo
	store    *storage.Store
	sched    *scheduler.Scheduler
	selector *swarm.Selector
	logger   log.Logger

	state atomic.Int32

	mu       async.Mutex
	sessions map[string]*PeerSession // keyed by remote endpoint
	known    map[string]struct{}     // every endpoint ever announced, for dedup

	stats *statsTracker

	statsMu   async.Mutex
	lastStats Stats

	cancel  context.CancelFunc
	stopped chan struct{}
}

func newTorrent(c *Client, mi *metainfo.MetaInfo, dir string) (*Torrent, error) {
	store, err := storage.Open(dir, &mi.Info, mi.InfoHash)
	if err != nil {
		return nil, wrapErr(KindStorageIO, err)
	}

	have := roaring.New()
	if c.resume != nil {
		if state, err := c.resume.Load(mi.InfoHash); err == nil && state != nil {
			have = state.Have
			store.MarkHave(have)
		}
	}

	sched := scheduler.NewScheduler(c.cfg.Scheduler, mi.Info.NumPieces(), store.PieceLength, have)

	ctx, cancel := context.WithCancel(context.Background())
	t := &Torrent{
		client:   c,
		mi:       mi,
		store:    store,
		sched:    sched,
		selector: swarm.NewSelector(),
		logger:   c.logger,
		sessions: make(map[string]*PeerSession),
		known:    make(map[string]struct{}),
		stats:    newStatsTracker(),
		cancel:   cancel,
		stopped:  make(chan struct{}),
	}
	t.state.Store(int32(StateStarting))
	go t.announceLoop(ctx, tracker.Started)
	go t.statsLoop(ctx)
	return t, nil
}

func (t *Torrent) start() {}

func (t *Torrent) State() State { return State(t.state.Load()) }

// Stats returns the most recently sampled progress snapshot.
func (t *Torrent) Stats() Stats {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	return t.lastStats
}

// Stop cancels the announce/stats clocks, announces "stopped", drains
// every session, and persists resume state.
func (t *Torrent) Stop() {
	if t.State() == StateStopped {
		return
	}
	t.state.Store(int32(StateStopped))
	t.cancel()

	t.mu.Lock()
	sessions := make([]*PeerSession, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()
	for _, s := range sessions {
		s.close(cancelledErr())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = t.announce(ctx, tracker.Stopped)

	if t.client.resume != nil {
		_ = t.client.resume.Save(t.mi.InfoHash, t.store.HaveBitmap(), t.stats.uploadedTotal(), t.stats.downloadedTotal(), nil)
	}
	close(t.stopped)
}

func (t *Torrent) announceLoop(ctx context.Context, firstEvent tracker.Event) {
	resp, err := t.announce(ctx, firstEvent)
	interval := 30 * time.Minute
	if err == nil && resp.Interval > 0 {
		interval = time.Duration(resp.Interval) * time.Second
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		event := tracker.None
		if t.store.HaveBitmap().GetCardinality() == uint64(t.store.NumPieces()) {
			event = tracker.Completed
		}
		resp, err := t.announce(ctx, event)
		if err != nil {
			t.stats.recordError(KindTrackerFailure, err)
			t.logger.Levelf(log.Warning, "announce failed: %v", err)
			continue
		}
		if resp.Interval > 0 {
			interval = time.Duration(resp.Interval) * time.Second
		}
		if resp.MinInterval > 0 && interval < time.Duration(resp.MinInterval)*time.Second {
			interval = time.Duration(resp.MinInterval) * time.Second
		}
	}
}

func (t *Torrent) announce(ctx context.Context, event tracker.Event) (tracker.AnnounceResponse, error) {
	have := t.store.HaveBitmap()
	left := int64(0)
	if total := t.mi.Info.TotalLength(); total > 0 {
		downloaded := int64(have.GetCardinality()) * t.mi.Info.PieceLength
		left = total - downloaded
		if left < 0 {
			left = 0
		}
	}

	var lastErr error
	for _, url := range t.mi.AnnounceURLs() {
		resp, err := t.client.trackerClient.Announce(ctx, url, tracker.AnnounceRequest{
			InfoHash:   t.mi.InfoHash,
			PeerID:     t.client.peerID,
			Port:       t.client.advertisedPort,
			Uploaded:   t.stats.uploadedTotal(),
			Downloaded: t.stats.downloadedTotal(),
			Left:       left,
			NumWant:    sessionLimit,
			Event:      event,
		})
		if err != nil {
			lastErr = err
			continue
		}
		t.onAnnounceResponse(resp)
		return resp, nil
	}
	return tracker.AnnounceResponse{}, wrapErr(KindTrackerFailure, lastErr)
}

// onAnnounceResponse dials as many newly announced peers as the
// session budget allows, preferring the selector's top scorers when
// there are more candidates than room.
func (t *Torrent) onAnnounceResponse(resp tracker.AnnounceResponse) {
	t.mu.Lock()
	budget := t.client.cfg.MaxPeersPerTorrent - len(t.sessions)
	byKey := make(map[swarm.PeerKey]tracker.Peer)
	var candidates []swarm.PeerKey
	for _, p := range resp.Peers {
		key := peerKey(p)
		strKey := string(key)
		if _, ok := t.known[strKey]; ok {
			continue
		}
		t.known[strKey] = struct{}{}
		byKey[key] = p
		candidates = append(candidates, key)
	}
	t.mu.Unlock()

	if budget <= 0 || len(candidates) == 0 {
		return
	}
	for _, key := range t.selector.Select(candidates, budget) {
		go t.dialPeer(byKey[key])
	}
}

func peerKey(p tracker.Peer) swarm.PeerKey {
	return swarm.PeerKey(p.IP.String() + ":" + itoa(p.Port))
}

func itoa(n int) string {
	// local helper so this file doesn't need strconv just for one call
	// site in the hot announce path.
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (t *Torrent) dialPeer(p tracker.Peer) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ps, err := t.client.dialHandshake(ctx, p, t.mi.InfoHash)
	if err != nil {
		t.stats.recordError(KindConnectTimeout, err)
		return
	}
	t.addSession(ps)
}

func (t *Torrent) addInboundSession(ps *PeerSession) { t.addSession(ps) }

func (t *Torrent) addSession(ps *PeerSession) {
	ps.torrent = t
	t.mu.Lock()
	if len(t.sessions) >= t.client.cfg.MaxPeersPerTorrent {
		t.mu.Unlock()
		ps.close(cancelledErr())
		return
	}
	t.sessions[ps.endpoint] = ps
	t.mu.Unlock()

	t.sched.AddPeer(scheduler.PeerID(ps.endpoint))
	if t.State() == StateStarting {
		t.state.Store(int32(StateDownloading))
	}
	go ps.run()
}

// cancelOthers issues "cancel" to every other session holding the same
// block once one delivery wins the endgame race.
func (t *Torrent) cancelOthers(pieceIndex int, begin, length uint32, others []scheduler.PeerID) {
	if len(others) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, peerID := range others {
		if s, ok := t.sessions[string(peerID)]; ok {
			s.send(peer_protocol.Message{Type: peer_protocol.Cancel, Index: uint32(pieceIndex), Begin: begin, Length: length})
		}
	}
}

func (t *Torrent) removeSession(ps *PeerSession) {
	t.mu.Lock()
	delete(t.sessions, ps.endpoint)
	t.mu.Unlock()
	t.sched.RemovePeer(scheduler.PeerID(ps.endpoint))
}

// broadcastHave sends "have" to every active session, ordered before
// any subsequent request for a block of pieceIndex is scheduled.
func (t *Torrent) broadcastHave(pieceIndex int) {
	t.mu.Lock()
	sessions := make([]*PeerSession, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()
	for _, s := range sessions {
		s.sendHave(pieceIndex)
	}
	if t.sched.Done() {
		t.state.Store(int32(StateSeeding))
	}
}

func (t *Torrent) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.mu.Lock()
			connected := len(t.sessions)
			total := len(t.known)
			t.mu.Unlock()

			have := t.store.HaveBitmap()
			left := t.mi.Info.TotalLength() - int64(have.GetCardinality())*t.mi.Info.PieceLength
			if left < 0 {
				left = 0
			}
			snapshot := t.stats.sample(now, left, t.store.NumPieces(), int(have.GetCardinality()), connected, total)
			t.statsMu.Lock()
			t.lastStats = snapshot
			t.statsMu.Unlock()
		}
	}
}

func cancelledErr() error { return wrapErr(KindCancelled, errCancelled{}) }

type errCancelled struct{}

func (errCancelled) Error() string { return "cancelled" }
