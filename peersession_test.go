package torrentcore

import (
	"net"
	"sync"
	"testing"
)

// TestPeerSessionCloseConcurrentSafe guards against the close-of-closed-channel
// panic that a check-then-close race would cause: run()'s deferred close and an
// externally triggered Stop() can both call close on the same session.
func TestPeerSessionCloseConcurrentSafe(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	ps := newPeerSession(client, [20]byte{}, 1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ps.close(nil)
		}()
	}
	wg.Wait()

	select {
	case <-ps.closed:
	default:
		t.Fatal("closed channel was never closed")
	}
}
