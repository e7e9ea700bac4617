package tracker

import "github.com/kestrel-dev/torrentcore/metainfo"

// Event is the optional "event" announce parameter.
type Event int

const (
	None Event = iota
	Started
	Stopped
	Completed
)

func (e Event) String() string {
	switch e {
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	case Completed:
		return "completed"
	default:
		return ""
	}
}

// AnnounceRequest carries every parameter a tracker GET needs.
type AnnounceRequest struct {
	InfoHash   metainfo.Hash
	PeerID     [20]byte
	Port       int
	Uploaded   int64
	Downloaded int64
	Left       int64
	NumWant    int
	Event      Event
}

// AnnounceResponse is the unified result of a single announce,
// regardless of which peer-list wire form the tracker used.
type AnnounceResponse struct {
	Interval    int32
	MinInterval int32
	Seeders     int32
	Leechers    int32
	Peers       []Peer
}

type httpResponse struct {
	FailureReason string   `bencode:"failure reason"`
	Warning       string   `bencode:"warning message"`
	Interval      int32    `bencode:"interval"`
	MinInterval   int32    `bencode:"min interval"`
	TrackerID     string   `bencode:"tracker id"`
	Complete      int32    `bencode:"complete"`
	Incomplete    int32    `bencode:"incomplete"`
	Peers         peerList `bencode:"peers"`
}
