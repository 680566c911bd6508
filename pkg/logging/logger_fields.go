package logging

import (
	"time"
)

// Common field constructors
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Cluster field helpers

func Component(name string) Field {
	return String("component", name)
}

// NodeID identifies the local cluster node
func NodeID(id string) Field {
	return String("node_id", id)
}

// Peer identifies the remote node a message came from or goes to
func Peer(id string) Field {
	return String("peer", id)
}

func Role(role string) Field {
	return String("role", role)
}

func Frame(n uint64) Field {
	return Uint64("frame", n)
}

// Gate names a barrier (GameStart, FrameStart, FrameEnd, SwapSync)
func Gate(name string) Field {
	return String("gate", name)
}

// Group names a sync group (PreTick, Tick, PostTick)
func Group(name string) Field {
	return String("sync_group", name)
}

// Request names a protocol request
func Request(name string) Field {
	return String("request", name)
}

func Operation(op string) Field {
	return String("operation", op)
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}

func Count(n int) Field {
	return Int("count", n)
}

func Addr(a string) Field {
	return String("addr", a)
}
