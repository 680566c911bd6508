package protocol

import "strings"

// Gate is one of the frame barriers
type Gate int

const (
	GateGameStart Gate = iota
	GateFrameStart
	GateFrameEnd
	GateSwapSync
)

// Gates lists every gate in the order a node passes them
var Gates = []Gate{GateGameStart, GateFrameStart, GateFrameEnd, GateSwapSync}

func (g Gate) String() string {
	switch g {
	case GateGameStart:
		return "GameStart"
	case GateFrameStart:
		return "FrameStart"
	case GateFrameEnd:
		return "FrameEnd"
	case GateSwapSync:
		return "SwapSync"
	default:
		return "Unknown"
	}
}

// RequestName returns the name of the wait request for g
func (g Gate) RequestName() string {
	return "WaitFor" + g.String()
}

// GateFromRequest maps a wait request name back to its gate
func GateFromRequest(name string) (Gate, bool) {
	rest, ok := strings.CutPrefix(name, "WaitFor")
	if !ok {
		return 0, false
	}
	for _, g := range Gates {
		if g.String() == rest {
			return g, true
		}
	}
	return 0, false
}
