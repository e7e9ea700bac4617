// Package tracker implements TrackerClient: HTTP(S)
// announce requests and compact/dictionary peer list parsing.
package tracker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/kestrel-dev/torrentcore/bencode"
)

// RequestHook lets an identity layer rewrite the outgoing announce
// before it is sent: mutate the query parameters or add headers. The
// hook never sees the HTTP client or transport, only the two values
// that influence what a tracker observes about the requester.
type RequestHook func(q url.Values, h http.Header)

// Client issues HTTP(S) announces against a single tracker URL tier at
// a time; the Engine is responsible for tier rotation on failure.
type Client struct {
	HTTP      *http.Client
	UserAgent string
	Hook      RequestHook
}

// NewClient returns a Client with a conventional 15-second per-request
// timeout.
func NewClient() *Client {
	return &Client{
		HTTP:      &http.Client{Timeout: 15 * time.Second},
		UserAgent: "torrentcore/1.0",
	}
}

// Announce performs one GET against announceURL and returns the
// unified peer list. A non-nil error always means the caller should
// not retry this tier within the same cycle.
func (c *Client) Announce(ctx context.Context, announceURL string, ar AnnounceRequest) (AnnounceResponse, error) {
	var out AnnounceResponse

	u, err := url.Parse(announceURL)
	if err != nil {
		return out, errors.WithStack(err)
	}
	q := u.Query()
	q.Set("info_hash", string(ar.InfoHash[:]))
	q.Set("peer_id", string(ar.PeerID[:]))
	q.Set("port", strconv.Itoa(ar.Port))
	q.Set("uploaded", strconv.FormatInt(ar.Uploaded, 10))
	q.Set("downloaded", strconv.FormatInt(ar.Downloaded, 10))
	q.Set("left", strconv.FormatInt(ar.Left, 10))
	q.Set("compact", "1")
	if ar.NumWant > 0 {
		q.Set("numwant", strconv.Itoa(ar.NumWant))
	}
	if ar.Event != None {
		q.Set("event", ar.Event.String())
	}

	header := make(http.Header)
	header.Set("User-Agent", c.UserAgent)
	if c.Hook != nil {
		c.Hook(q, header)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return out, errors.WithStack(err)
	}
	req.Header = header

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return out, errors.WithStack(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, errors.WithStack(err)
	}
	if resp.StatusCode != http.StatusOK {
		return out, failure(announceURL, fmt.Sprintf("http %d: %s", resp.StatusCode, string(body)))
	}

	var tr httpResponse
	if err := bencode.Unmarshal(body, &tr); err != nil {
		if _, ok := err.(bencode.ErrUnusedTrailingBytes); !ok {
			return out, failure(announceURL, err.Error())
		}
	}
	if tr.FailureReason != "" {
		return out, failure(announceURL, tr.FailureReason)
	}

	out.Interval = tr.Interval
	out.MinInterval = tr.MinInterval
	out.Seeders = tr.Complete
	out.Leechers = tr.Incomplete
	out.Peers = []Peer(tr.Peers)
	return out, nil
}
