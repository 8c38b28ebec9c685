package mesh

import "context"

// FakeDriver returns scripted peer lists.
type FakeDriver struct {
	// Peers is returned by ListPeers.
	Peers []Peer

	// Err, if set, will be returned by ListPeers.
	Err error

	// Calls counts ListPeers invocations.
	Calls int
}

// ListPeers returns Peers or Err.
func (f *FakeDriver) ListPeers(ctx context.Context) ([]Peer, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([]Peer, len(f.Peers))
	copy(out, f.Peers)
	return out, nil
}
