package torrentcore

import (
	"sync/atomic"
	"time"

	async "github.com/anacrolix/sync"
	"github.com/dustin/go-humanize"
)

// Stats is a snapshot of one torrent's progress, emitted on a 1 Hz
// cadence.
type Stats struct {
	Downloaded     int64
	Uploaded       int64
	Left           int64
	Progress       float64
	ConnectedPeers int
	TotalPeers     int
	DownloadBPS    float64
	UploadBPS      float64
	ETA            time.Duration

	LastErrorKind Kind
	LastError     string
}

// String renders a stats snapshot as a CLI progress line, humanizing
// byte counts and rates.
func (s Stats) String() string {
	line := humanize.Bytes(uint64(s.Downloaded)) + "/" +
		humanize.Bytes(uint64(s.Downloaded+s.Left)) +
		" (" + humanize.FormatFloat("##.##", s.Progress*100) + "%) " +
		humanize.Bytes(uint64(s.DownloadBPS)) + "/s down, " +
		humanize.Bytes(uint64(s.UploadBPS)) + "/s up, " +
		humanize.Bytes(uint64(s.Uploaded)) + " uploaded"
	if s.ETA > 0 {
		line += ", eta " + s.ETA.Round(time.Second).String()
	}
	if s.LastError != "" {
		line += " [" + s.LastErrorKind.String() + ": " + s.LastError + "]"
	}
	return line
}

// statsTracker accumulates the rolling counters a torrent's stats
// snapshot is derived from. downloaded/uploaded are written from every
// PeerSession's goroutine concurrently, so they're atomic; the error
// pair is written just as concurrently but isn't atomic-friendly, so
// it's guarded by errMu instead. lastSampleTime and the BPS fields are
// only ever touched from statsLoop's single goroutine via sample.
type statsTracker struct {
	downloaded atomic.Int64
	uploaded   atomic.Int64

	lastSampleTime       time.Time
	lastSampleDownloaded int64
	lastSampleUploaded   int64
	downloadBPS          float64
	uploadBPS            float64

	errMu       async.Mutex
	lastErrKind Kind
	lastErr     string
}

func newStatsTracker() *statsTracker {
	return &statsTracker{lastSampleTime: time.Now()}
}

func (st *statsTracker) addDownloaded(n int64) { st.downloaded.Add(n) }
func (st *statsTracker) addUploaded(n int64)   { st.uploaded.Add(n) }

func (st *statsTracker) downloadedTotal() int64 { return st.downloaded.Load() }
func (st *statsTracker) uploadedTotal() int64   { return st.uploaded.Load() }

func (st *statsTracker) recordError(kind Kind, err error) {
	st.errMu.Lock()
	defer st.errMu.Unlock()
	st.lastErrKind = kind
	st.lastErr = err.Error()
}

// sample folds one 1 Hz tick into the rolling byte-rate estimate.
func (st *statsTracker) sample(now time.Time, left int64, numPieces, havePieces, connected, totalPeers int) Stats {
	downloaded := st.downloaded.Load()
	uploaded := st.uploaded.Load()

	elapsed := now.Sub(st.lastSampleTime).Seconds()
	if elapsed > 0 {
		st.downloadBPS = float64(downloaded-st.lastSampleDownloaded) / elapsed
		st.uploadBPS = float64(uploaded-st.lastSampleUploaded) / elapsed
	}
	st.lastSampleTime = now
	st.lastSampleDownloaded = downloaded
	st.lastSampleUploaded = uploaded

	progress := 0.0
	if numPieces > 0 {
		progress = float64(havePieces) / float64(numPieces)
	}
	var eta time.Duration
	if st.downloadBPS > 0 && left > 0 {
		eta = time.Duration(float64(left)/st.downloadBPS) * time.Second
	}

	st.errMu.Lock()
	errKind, errStr := st.lastErrKind, st.lastErr
	st.errMu.Unlock()

	return Stats{
		Downloaded:     downloaded,
		Uploaded:       uploaded,
		Left:           left,
		Progress:       progress,
		ConnectedPeers: connected,
		TotalPeers:     totalPeers,
		DownloadBPS:    st.downloadBPS,
		UploadBPS:      st.uploadBPS,
		ETA:            eta,
		LastErrorKind:  errKind,
		LastError:      errStr,
	}
}
