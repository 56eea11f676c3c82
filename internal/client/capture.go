package client

// SplitChannels maps a capture buffer onto the two logical roles.
//
// A stereo capture yields the left and right channels. A mono capture
// duplicates the single channel to both roles instead of failing; some
// consultation-room hardware only exposes one channel, and both roles must
// keep working when it does.
func SplitChannels(channels [][]float32) (left, right []float32) {
	switch len(channels) {
	case 0:
		return nil, nil
	case 1:
		return channels[0], channels[0]
	default:
		return channels[0], channels[1]
	}
}

// RolePair drives two sessions from one capture stream, one per stereo
// channel. Each session keeps its own gate, transport, and state machine;
// an error on one has no effect on the other.
type RolePair struct {
	Left  *Session
	Right *Session
}

// OnAudio dispatches one capture callback to both sessions.
func (p *RolePair) OnAudio(channels [][]float32) {
	left, right := SplitChannels(channels)
	if p.Left != nil && left != nil {
		p.Left.OnAudio(left)
	}
	if p.Right != nil && right != nil {
		p.Right.OnAudio(right)
	}
}

// Stop requests a graceful stop on both sessions.
func (p *RolePair) Stop() {
	if p.Left != nil {
		p.Left.Stop()
	}
	if p.Right != nil {
		p.Right.Stop()
	}
}

// Close tears both sessions down.
func (p *RolePair) Close() {
	if p.Left != nil {
		p.Left.Close()
	}
	if p.Right != nil {
		p.Right.Close()
	}
}
