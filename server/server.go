package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/thenaterhood/spudproxy/app"
	"github.com/thenaterhood/spudproxy/resolver"
	"github.com/thenaterhood/spudproxy/wire"
)

const (
	// The largest UDP payload, so no datagram is ever cut short.
	maxPacketSize = 65535

	// Forwards in flight at once. Further forwards are dropped and counted
	// as failed until a slot frees up.
	maxConcurrentForwards = 64
)

// Stats are the listener's counters since Start.
type Stats struct {
	Received       uint64 `json:"received"`
	Answered       uint64 `json:"answered"`
	Forwarded      uint64 `json:"forwarded"`
	Dropped        uint64 `json:"dropped"`
	Malformed      uint64 `json:"malformed"`
	NotImplemented uint64 `json:"not_implemented"`
	Failed         uint64 `json:"failed"`
}

type counters struct {
	received       atomic.Uint64
	answered       atomic.Uint64
	forwarded      atomic.Uint64
	dropped        atomic.Uint64
	malformed      atomic.Uint64
	notImplemented atomic.Uint64
	failed         atomic.Uint64
}

type DnsServer struct {
	appConfig *app.AppConfig
	appState  *app.AppState

	mu    sync.Mutex
	conns []*net.UDPConn
	wg    sync.WaitGroup
	// one slot per forward in flight
	forwardSlots chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
	running      atomic.Bool
	stats        counters
}

// HandlePacket decodes one datagram and returns the reply to send, if any.
// A nil reply with a forward decision means the query should be relayed
// upstream.
func (ds *DnsServer) HandlePacket(packet []byte, client string) ([]byte, resolver.Decision, error) {
	ds.stats.received.Add(1)
	ds.appState.Metrics.IncQueriesReceived()

	query, err := wire.Decode(packet)
	if err != nil {
		ds.stats.malformed.Add(1)
		ds.appState.Metrics.IncMalformedPackets()
		return nil, resolver.Decision{Action: resolver.ActionDrop, Reason: "malformed packet"}, err
	}

	response, decision := ds.appState.ResolveQuery(query, client)

	switch decision.Action {
	case resolver.ActionAnswer:
		ds.stats.answered.Add(1)
	case resolver.ActionNotImplemented:
		ds.stats.notImplemented.Add(1)
	case resolver.ActionForward:
		ds.stats.forwarded.Add(1)
	default:
		ds.stats.dropped.Add(1)
	}

	if response == nil {
		return nil, decision, nil
	}

	packed, err := wire.Encode(response)
	if err != nil {
		return nil, decision, fmt.Errorf("failed to encode response: %w", err)
	}

	return packed, decision, nil
}

func (ds *DnsServer) handleDatagram(conn *net.UDPConn, addr netip.AddrPort, packet []byte) {
	defer func() {
		if r := recover(); r != nil {
			ds.appState.Log.Error("recovered from panic handling dns packet", "client", addr.String(), "panic", r)
		}
	}()

	reply, decision, err := ds.HandlePacket(packet, addr.String())
	if err != nil {
		var malformed wire.MalformedPacketError
		if errors.As(err, &malformed) {
			ds.appState.Log.Debug("dropping malformed packet", "client", addr.String(), "error", err)
		} else {
			ds.appState.Log.Warn("error handling dns packet", "client", addr.String(), "error", err)
		}
		return
	}

	if reply != nil {
		if _, err := conn.WriteToUDPAddrPort(reply, addr); err != nil {
			ds.appState.Log.Warn("failed to write dns response", "client", addr.String(), "err", err)
		}
		return
	}

	if decision.Action == resolver.ActionForward {
		// The receive buffer is reused for the next datagram.
		query := make([]byte, len(packet))
		copy(query, packet)

		select {
		case ds.forwardSlots <- struct{}{}:
			ds.wg.Add(1)
			go ds.forward(conn, addr, query)
		default:
			ds.stats.failed.Add(1)
			ds.appState.Metrics.IncQueriesFailed()
			ds.appState.Log.Warn("too many forwards in flight - dropping query", "client", addr.String(), "limit", maxConcurrentForwards)
		}
	}
}

func (ds *DnsServer) forward(conn *net.UDPConn, addr netip.AddrPort, packet []byte) {
	defer ds.wg.Done()
	defer func() { <-ds.forwardSlots }()

	reply, err := ds.appState.ForwardQuery(ds.ctx, packet)
	if err != nil {
		ds.stats.failed.Add(1)
		ds.appState.Log.Warn("failed to forward dns query", "client", addr.String(), "error", err)
		return
	}

	if _, err := conn.WriteToUDPAddrPort(reply, addr); err != nil {
		ds.appState.Log.Warn("failed to write forwarded dns response", "client", addr.String(), "err", err)
	}
}

func (ds *DnsServer) serve(conn *net.UDPConn) {
	defer ds.wg.Done()

	buf := make([]byte, maxPacketSize)
	for {
		n, addr, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			ds.appState.Log.Warn("failed to read dns packet", "addr", conn.LocalAddr().String(), "err", err)
			continue
		}

		ds.handleDatagram(conn, addr, buf[:n])
	}
}

// Start binds every configured address and serves each on its own
// goroutine. Either every address is bound or none is.
func (ds *DnsServer) Start() error {
	for _, addr := range ds.appConfig.BindAddresses() {
		udpAddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			ds.closeConns()
			return &BindError{Addr: addr, Err: err}
		}

		conn, err := net.ListenUDP("udp", udpAddr)
		if err != nil {
			ds.closeConns()
			return &BindError{Addr: addr, Err: err}
		}

		ds.mu.Lock()
		ds.conns = append(ds.conns, conn)
		ds.mu.Unlock()
	}

	ds.running.Store(true)

	ds.mu.Lock()
	defer ds.mu.Unlock()
	for _, conn := range ds.conns {
		ds.appState.Log.Info("starting DNS server", "addr", conn.LocalAddr().String())
		ds.wg.Add(1)
		go ds.serve(conn)
	}

	return nil
}

func (ds *DnsServer) closeConns() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	var errs []error
	for _, conn := range ds.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	ds.conns = nil
	return errors.Join(errs...)
}

// Shutdown closes every socket and waits for in-flight work to finish.
func (ds *DnsServer) Shutdown() error {
	ds.running.Store(false)
	ds.cancel()
	err := ds.closeConns()
	ds.wg.Wait()
	ds.appState.Log.Info("DNS server stopped")
	return err
}

func (ds *DnsServer) Addrs() []net.Addr {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	addrs := []net.Addr{}
	for _, conn := range ds.conns {
		addrs = append(addrs, conn.LocalAddr())
	}
	return addrs
}

func (ds *DnsServer) Running() bool {
	return ds.running.Load()
}

func (ds *DnsServer) Stats() Stats {
	return Stats{
		Received:       ds.stats.received.Load(),
		Answered:       ds.stats.answered.Load(),
		Forwarded:      ds.stats.forwarded.Load(),
		Dropped:        ds.stats.dropped.Load(),
		Malformed:      ds.stats.malformed.Load(),
		NotImplemented: ds.stats.notImplemented.Load(),
		Failed:         ds.stats.failed.Load(),
	}
}

func NewDnsServer(config app.AppConfig, state *app.AppState) *DnsServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &DnsServer{
		appConfig:    &config,
		appState:     state,
		forwardSlots: make(chan struct{}, maxConcurrentForwards),
		ctx:          ctx,
		cancel:       cancel,
	}
}
