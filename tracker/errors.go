package tracker

import "github.com/pkg/errors"

// TrackerFailure wraps any tracker-side failure: a non-200 HTTP status,
// an undecodable response body, or a "failure reason" key in the
// bencoded reply. It is always surfaced to the caller without retry.
type TrackerFailure struct {
	URL    string
	Reason string
}

func (e *TrackerFailure) Error() string {
	return "tracker failure from " + e.URL + ": " + e.Reason
}

func failure(url, reason string) error {
	return errors.WithStack(&TrackerFailure{URL: url, Reason: reason})
}
