package torrentcore

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/anacrolix/log"
	async "github.com/anacrolix/sync"
	"github.com/pkg/errors"

	"github.com/kestrel-dev/torrentcore/metainfo"
	"github.com/kestrel-dev/torrentcore/peer_protocol"
	"github.com/kestrel-dev/torrentcore/scheduler"
	"github.com/kestrel-dev/torrentcore/storage"
	"github.com/kestrel-dev/torrentcore/swarm"
	"github.com/kestrel-dev/torrentcore/tracker"
)

const (
	idleKeepaliveInterval = 2 * time.Minute
	silenceTimeout        = 2 * time.Minute
	handshakeTimeout      = 10 * time.Second

	// requestTimeout is how long an outstanding block request waits
	// for a "piece" reply before the scheduler reclaims it for another
	// peer.
	requestTimeout = 30 * time.Second
)

// PeerSession is the per-connection protocol state machine.
type PeerSession struct {
	endpoint string
	conn     net.Conn
	peerID   [20]byte
	torrent  *Torrent

	decoder *peer_protocol.Decoder

	writeMu async.Mutex

	amChoking       bool
	amInterested    bool
	peerChoking     bool
	peerInterested  bool

	lastMsgMu async.Mutex
	lastMsg   time.Time

	// outgoing maps a block request still awaiting its "piece" reply to
	// the time it was sent; outgoingMu guards it since both the read
	// loop and expireRequest's timers touch it.
	outgoingMu async.Mutex
	outgoing   map[scheduler.BlockRequest]time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

func newPeerSession(conn net.Conn, peerID [20]byte, numPieces int) *PeerSession {
	return &PeerSession{
		endpoint:       conn.RemoteAddr().String(),
		conn:           conn,
		peerID:         peerID,
		decoder:        peer_protocol.NewDecoder(conn, numPieces),
		amChoking:      true,
		amInterested:   false,
		peerChoking:    true,
		peerInterested: false,
		outgoing:       make(map[scheduler.BlockRequest]time.Time),
		lastMsg:        time.Now(),
		closed:         make(chan struct{}),
	}
}

// dialHandshake opens a TCP connection to p, performs the outbound
// handshake, and returns a PeerSession ready to run.
func (c *Client) dialHandshake(ctx context.Context, p tracker.Peer, infoHash metainfo.Hash) (*PeerSession, error) {
	addr := net.JoinHostPort(p.IP.String(), strconv.Itoa(p.Port))
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, wrapErr(KindConnectTimeout, err)
	}
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	if err := peer_protocol.WriteHandshake(conn, peer_protocol.Handshake{InfoHash: infoHash, PeerID: c.peerID}); err != nil {
		conn.Close()
		return nil, wrapErr(KindConnectTimeout, err)
	}
	hs, err := peer_protocol.ReadHandshake(conn, infoHash)
	if err != nil {
		conn.Close()
		return nil, wrapErr(KindInfoHashMismatch, err)
	}
	conn.SetDeadline(time.Time{})

	c.mu.Lock()
	t, ok := c.torrents[infoHash]
	c.mu.Unlock()
	numPieces := 0
	if ok {
		numPieces = t.mi.Info.NumPieces()
	}
	return newPeerSession(conn, hs.PeerID, numPieces), nil
}

// acceptHandshake reads an inbound handshake whose info hash determines
// which torrent the connection belongs to.
func (c *Client) acceptHandshake(conn net.Conn) (*PeerSession, *Torrent, error) {
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	hs, err := peer_protocol.ReadHandshake(conn, metainfo.Hash{})
	if err != nil {
		return nil, nil, wrapErr(KindProtocolViolation, err)
	}
	c.mu.Lock()
	t, ok := c.torrents[hs.InfoHash]
	c.mu.Unlock()
	if !ok {
		return nil, nil, errors.New("handshake for unknown infohash")
	}
	if err := peer_protocol.WriteHandshake(conn, peer_protocol.Handshake{InfoHash: hs.InfoHash, PeerID: c.peerID}); err != nil {
		return nil, nil, wrapErr(KindConnectTimeout, err)
	}
	conn.SetDeadline(time.Time{})
	return newPeerSession(conn, hs.PeerID, t.mi.Info.NumPieces()), t, nil
}

// run is the session's read loop: it drives the state machine until a
// terminal error or explicit close.
func (ps *PeerSession) run() {
	defer ps.torrent.removeSession(ps)
	defer ps.close(nil)

	ps.sendBitfield()
	go ps.keepaliveLoop()

	var msg peer_protocol.Message
	for {
		ps.conn.SetReadDeadline(time.Now().Add(silenceTimeout))
		if err := ps.decoder.Decode(&msg); err != nil {
			ps.recordSilence(err)
			return
		}
		ps.touch()
		if msg.Keepalive {
			continue
		}
		if err := ps.handle(msg); err != nil {
			return
		}
	}
}

func (ps *PeerSession) touch() {
	ps.lastMsgMu.Lock()
	ps.lastMsg = time.Now()
	ps.lastMsgMu.Unlock()
}

func (ps *PeerSession) recordSilence(err error) {
	kind := KindPeerClosed
	switch err {
	case peer_protocol.ErrFrameTooLarge, peer_protocol.ErrBitfieldPadding,
		peer_protocol.ErrLateBitfield, peer_protocol.ErrUnknownMessageType:
		kind = KindProtocolViolation
	}
	ps.torrent.stats.recordError(kind, err)
	ps.torrent.logger.Levelf(log.Debug, "session %s closed: %v", ps.endpoint, err)
}

func (ps *PeerSession) keepaliveLoop() {
	ticker := time.NewTicker(idleKeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ps.closed:
			return
		case <-ticker.C:
			ps.lastMsgMu.Lock()
			idle := time.Since(ps.lastMsg)
			ps.lastMsgMu.Unlock()
			if idle >= idleKeepaliveInterval {
				ps.send(peer_protocol.Message{Keepalive: true})
			}
		}
	}
}

func (ps *PeerSession) handle(msg peer_protocol.Message) error {
	t := ps.torrent
	switch msg.Type {
	case peer_protocol.Choke:
		ps.peerChoking = true
		t.sched.SetUnchoked(scheduler.PeerID(ps.endpoint), false)
	case peer_protocol.Unchoke:
		ps.peerChoking = false
		t.sched.SetUnchoked(scheduler.PeerID(ps.endpoint), true)
		ps.fillPipeline()
	case peer_protocol.Interested:
		ps.peerInterested = true
	case peer_protocol.NotInterested:
		ps.peerInterested = false
	case peer_protocol.Have:
		t.sched.OnHave(scheduler.PeerID(ps.endpoint), int(msg.Index))
		ps.maybeSendInterested()
	case peer_protocol.Bitfield:
		have := peer_protocol.UnmarshalBitfield(msg.Bitfield, t.mi.Info.NumPieces())
		t.sched.OnBitfield(scheduler.PeerID(ps.endpoint), have)
		ps.maybeSendInterested()
	case peer_protocol.Request:
		return ps.onRequest(msg)
	case peer_protocol.Piece:
		return ps.onPiece(msg)
	case peer_protocol.Cancel:
		// Outbound "piece" sends aren't queued ahead of time in this
		// implementation, so there is nothing pending to cancel.
	}
	return nil
}

func (ps *PeerSession) maybeSendInterested() {
	t := ps.torrent
	useful := t.sched.PeerHasUsefulPiece(scheduler.PeerID(ps.endpoint))
	if useful && !ps.amInterested {
		ps.amInterested = true
		ps.send(peer_protocol.Message{Type: peer_protocol.Interested})
	} else if !useful && ps.amInterested {
		ps.amInterested = false
		ps.send(peer_protocol.Message{Type: peer_protocol.NotInterested})
	}
}

func (ps *PeerSession) onRequest(msg peer_protocol.Message) error {
	if ps.amChoking {
		return nil
	}
	data, err := ps.torrent.store.Read(int(msg.Index), int64(msg.Begin), int64(msg.Length))
	if err != nil {
		ps.torrent.logger.Levelf(log.Warning, "read piece %d for %s: %v", msg.Index, ps.endpoint, err)
		return wrapErr(KindStorageIO, err)
	}
	ps.send(peer_protocol.Message{Type: peer_protocol.Piece, Index: msg.Index, Begin: msg.Begin, Block: data})
	ps.torrent.stats.addUploaded(int64(len(data)))
	return nil
}

func (ps *PeerSession) onPiece(msg peer_protocol.Message) error {
	req := scheduler.BlockRequest{PieceIndex: int(msg.Index), BlockOffset: int64(msg.Begin), Length: int64(len(msg.Block))}
	ps.outgoingMu.Lock()
	sentAt, ok := ps.outgoing[req]
	if ok {
		delete(ps.outgoing, req)
	}
	ps.outgoingMu.Unlock()
	if !ok {
		return nil // unmatched block, discarded but not fatal
	}

	t := ps.torrent
	if err := t.store.WriteBlock(int(msg.Index), int64(msg.Begin), msg.Block); err != nil {
		t.logger.Levelf(log.Warning, "write piece %d from %s: %v", msg.Index, ps.endpoint, err)
		return wrapErr(KindStorageIO, err)
	}
	t.stats.addDownloaded(int64(len(msg.Block)))

	key := swarm.PeerKey(ps.endpoint)
	if elapsed := time.Since(sentAt); elapsed > 0 {
		t.selector.RecordLatency(key, float64(elapsed.Milliseconds()))
		t.selector.RecordThroughput(key, float64(len(msg.Block))/elapsed.Seconds())
	}

	others := t.sched.OnBlockDelivered(scheduler.PeerID(ps.endpoint), int(msg.Index), int64(msg.Begin))
	t.cancelOthers(int(msg.Index), msg.Begin, uint32(len(msg.Block)), others)

	result, err := t.store.TryFinalize(int(msg.Index))
	if err != nil {
		return wrapErr(KindStorageIO, err)
	}
	switch result {
	case storage.Verified:
		t.selector.RecordVerification(key, true)
		t.sched.OnPieceVerified(int(msg.Index))
		t.broadcastHave(int(msg.Index))
	case storage.Mismatch:
		t.selector.RecordVerification(key, false)
		t.sched.OnVerificationFailed(int(msg.Index))
		t.logger.Levelf(log.Warning, "piece %d failed verification, last block from %s", msg.Index, ps.endpoint)
	}

	ps.fillPipeline()
	return nil
}

func (ps *PeerSession) fillPipeline() {
	t := ps.torrent
	for _, req := range t.sched.NextRequests(scheduler.PeerID(ps.endpoint)) {
		ps.outgoingMu.Lock()
		ps.outgoing[req] = time.Now()
		ps.outgoingMu.Unlock()
		ps.send(peer_protocol.Message{
			Type:   peer_protocol.Request,
			Index:  uint32(req.PieceIndex),
			Begin:  uint32(req.BlockOffset),
			Length: uint32(req.Length),
		})
		time.AfterFunc(requestTimeout, func() { ps.expireRequest(req) })
	}
}

// expireRequest reclaims req for the scheduler's pool if the peer
// never answered within requestTimeout.
func (ps *PeerSession) expireRequest(req scheduler.BlockRequest) {
	select {
	case <-ps.closed:
		return
	default:
	}
	ps.outgoingMu.Lock()
	_, ok := ps.outgoing[req]
	if ok {
		delete(ps.outgoing, req)
	}
	ps.outgoingMu.Unlock()
	if !ok {
		return
	}
	t := ps.torrent
	t.sched.OnRequestTimeout(scheduler.PeerID(ps.endpoint), req)
	t.stats.recordError(KindRequestTimeout, errRequestTimeout{})
	ps.fillPipeline()
}

type errRequestTimeout struct{}

func (errRequestTimeout) Error() string { return "request timed out" }

func (ps *PeerSession) sendHave(pieceIndex int) {
	ps.send(peer_protocol.Message{Type: peer_protocol.Have, Index: uint32(pieceIndex)})
}

func (ps *PeerSession) sendBitfield() {
	t := ps.torrent
	have := t.store.HaveBitmap()
	bits := make([]bool, t.mi.Info.NumPieces())
	for i := range bits {
		bits[i] = have.Contains(uint32(i))
	}
	ps.send(peer_protocol.Message{Type: peer_protocol.Bitfield, Bitfield: peer_protocol.MarshalBitfield(bits)})
}

// send serializes outgoing frames behind the per-session write lock so
// partial frame interleaving is impossible.
func (ps *PeerSession) send(msg peer_protocol.Message) {
	buf, err := msg.MarshalBinary()
	if err != nil {
		return
	}
	ps.writeMu.Lock()
	defer ps.writeMu.Unlock()
	ps.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	ps.conn.Write(buf)
}

func (ps *PeerSession) close(err error) {
	ps.closeOnce.Do(func() {
		close(ps.closed)
		if err != nil {
			ps.torrent.stats.recordError(KindCancelled, err)
		}
		ps.conn.Close()
	})
}
