// Package transport carries protocol messages between cluster nodes.
//
// Three implementations share one shape: a Server that the primary runs in
// front of a protocol.Handler, and a Dial that gives a secondary a request
// channel and an event channel to the primary.
//
//   - tcp: JSON envelopes over plain TCP, one goroutine per connection
//   - nng: mangos REQ/REP with one REP context per node, PUSH/PULL for events
//   - zmq: ZeroMQ ROUTER/DEALER and PUSH/PULL, built with the zmq tag
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dd0wney/cluso-lockstep/pkg/cluster"
	"github.com/dd0wney/cluso-lockstep/pkg/logging"
	"github.com/dd0wney/cluso-lockstep/pkg/protocol"
)

// Server is the listening side run by the primary
type Server interface {
	// SyncAddr is the bound request/response address
	SyncAddr() string
	// EventsAddr is the bound event address
	EventsAddr() string
	// Peers returns the ids of the peers currently connected
	Peers() []string
	Close() error
}

// Transport creates servers and client channels of one kind
type Transport interface {
	Kind() string
	Listen(node cluster.Node, handler protocol.Handler) (Server, error)
	Dial(ctx context.Context, node cluster.Node) (requests, events protocol.Channel, err error)
}

// Options are shared by every transport kind
type Options struct {
	// NodeID is the local node, stamped on every outgoing envelope
	NodeID           string
	Logger           logging.Logger
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// MaxPeers bounds concurrent connections and, for nng, REP contexts
	MaxPeers int
}

// DefaultOptions returns the default transport options
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		MaxPeers:         16,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.MaxPeers <= 0 {
		o.MaxPeers = d.MaxPeers
	}
	o.Logger = logging.OrNop(o.Logger)
	return o
}

// Factory builds a transport from options
type Factory func(opts Options) Transport

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a transport kind available to New
func Register(kind string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = f
}

// Kinds returns the registered transport kinds, sorted
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// New creates a transport of the given kind
func New(kind string, opts Options) (Transport, error) {
	registryMu.RLock()
	f, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		if kind == "zmq" {
			return nil, fmt.Errorf("%w: %q (rebuild with -tags zmq)", ErrUnknownTransport, kind)
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, kind)
	}
	return f(opts.withDefaults()), nil
}

// PortOf extracts the port from a bound address in either "host:port" or
// "tcp://host:port" form
func PortOf(addr string) (int, error) {
	if _, rest, ok := strings.Cut(addr, "://"); ok {
		addr = rest
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return 0, fmt.Errorf("invalid port in %q: %w", addr, err)
	}
	return n, nil
}

func init() {
	Register("tcp", NewTCP)
	Register("nng", NewNNG)
}

// Transport errors
var (
	ErrUnknownTransport = errors.New("unknown transport")
	ErrHandshake        = errors.New("handshake failed")
	ErrDuplicatePeer    = errors.New("peer already connected")
)
