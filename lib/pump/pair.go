package pump

// TunnelPair couples the two tunnels relaying opposite directions of one
// duplexed connection. The pair owns both tunnels; each tunnel holds the
// pair plus its own index and derives its sibling from those, so neither
// tunnel ever owns (or frees) the other directly. The pairing is symmetric
// and fixed at creation.
type TunnelPair struct {
	tunnels [2]*Tunnel
}

// SetupTwoWayTunnel pairs east and west so that whichever terminates first
// (success or error) forces the remaining open sides of the other closed.
// Both tunnels must have been built over the same lock (pass one Config.Lock
// to both Starts); events for the pair then serialize under it. Tunnels that
// do not share a lock cannot coordinate teardown and are refused: the call
// returns nil and both tunnels stay unpaired.
//
// If one tunnel already finished before pairing, the other is torn down
// immediately.
func SetupTwoWayTunnel(east, west *Tunnel) *TunnelPair {
	if east.mu != west.mu {
		log.Error("SetupTwoWayTunnel: tunnels do not share a lock, refusing to pair")
		return nil
	}
	p := &TunnelPair{tunnels: [2]*Tunnel{east, west}}
	east.mu.Lock()
	defer east.mu.Unlock()
	east.pair, east.pairIdx = p, 0
	west.pair, west.pairIdx = p, 1
	if east.st == StateDone {
		west.forceClose()
	} else if west.st == StateDone {
		east.forceClose()
	}
	return p
}

// East returns the tunnel registered first.
func (p *TunnelPair) East() *Tunnel { return p.tunnels[0] }

// West returns the tunnel registered second.
func (p *TunnelPair) West() *Tunnel { return p.tunnels[1] }

// Done reports whether both tunnels have independently reached their
// terminal state.
func (p *TunnelPair) Done() bool {
	p.tunnels[0].mu.Lock()
	defer p.tunnels[0].mu.Unlock()
	return p.tunnels[0].st == StateDone && p.tunnels[1].st == StateDone
}

// Release frees both tunnels' buffers, the pair-owned counterpart of
// Tunnel.Release. Call after both completion callbacks have fired.
func (p *TunnelPair) Release() {
	p.tunnels[0].release()
	p.tunnels[1].release()
}

// peer returns the sibling tunnel, or nil when unpaired.
func (t *Tunnel) peer() *Tunnel {
	if t.pair == nil {
		return nil
	}
	return t.pair.tunnels[1-t.pairIdx]
}
