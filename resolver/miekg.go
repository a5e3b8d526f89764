package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/thenaterhood/spudproxy/metrics"
)

const DefaultForwardTimeout = 5 * time.Second

var ErrNoUpstream = errors.New("no upstream resolvers are configured")

// Forwarder relays a raw query to an upstream resolver and returns the raw
// reply, carrying the original transaction ID.
type Forwarder interface {
	Forward(ctx context.Context, packet []byte) ([]byte, error)
}

type UpstreamConfig struct {
	Servers []string
	// Consulted on every forward when Servers is empty, so a watched
	// resolv.conf can change the upstreams at runtime.
	ServerSource func() []string
	// Addresses this process answers on. Upstreams that resolve to one of
	// them are skipped so a query is never forwarded back to ourselves.
	LocalAddrs func() []net.Addr
	Timeout    time.Duration
	Logger     *slog.Logger
	Metrics    metrics.MetricsInterface
}

type miekgForwarder struct {
	config UpstreamConfig
	client *dns.Client
	// upstreams already reported as pointing back at us
	warned sync.Map
}

func NewUpstreamForwarder(config UpstreamConfig) Forwarder {
	if config.Timeout <= 0 {
		config.Timeout = DefaultForwardTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Metrics == nil {
		config.Metrics = metrics.DummyMetrics{}
	}

	c := new(dns.Client)
	c.Net = "udp"
	c.UDPSize = dns.DefaultMsgSize
	c.Timeout = config.Timeout

	return &miekgForwarder{
		config: config,
		client: c,
	}
}

func (f *miekgForwarder) servers() []string {
	servers := f.config.Servers
	if len(servers) < 1 && f.config.ServerSource != nil {
		servers = f.config.ServerSource()
	}

	if f.config.LocalAddrs == nil {
		return servers
	}

	locals := f.config.LocalAddrs()
	usable := make([]string, 0, len(servers))
	for _, server := range servers {
		if isLocalListener(server, locals) {
			if _, seen := f.warned.LoadOrStore(server, true); !seen {
				f.config.Logger.Warn("ignoring upstream resolver that points back at this server", "server", server)
			}
			continue
		}
		usable = append(usable, server)
	}
	return usable
}

func (f *miekgForwarder) Forward(ctx context.Context, packet []byte) ([]byte, error) {
	timer := f.config.Metrics.GetForwardTimer()
	defer f.config.Metrics.ObserveTimer(timer)

	m := new(dns.Msg)
	if err := m.Unpack(packet); err != nil {
		return nil, fmt.Errorf("failed to unpack query for forwarding: %w", err)
	}

	servers := f.servers()
	if len(servers) < 1 {
		return nil, ErrNoUpstream
	}

	var err error
	for _, server := range servers {
		var r *dns.Msg
		exchangeCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
		r, _, err = f.client.ExchangeContext(exchangeCtx, m, upstreamAddr(server))
		cancel()

		if err != nil {
			f.config.Logger.Warn("upstream lookup failed - will try next resolver", "server", server, "error", err)
			continue
		}

		f.config.Logger.Debug("upstream lookup succeeded", "server", server, "rcode", dns.RcodeToString[r.Rcode], "answers", len(r.Answer))
		return r.Pack()
	}

	return nil, err
}

// Whether server is one of the addresses we listen on. A wildcard listener
// also covers loopback and unspecified addresses on its port.
func isLocalListener(server string, locals []net.Addr) bool {
	target, err := netip.ParseAddrPort(upstreamAddr(server))
	if err != nil {
		// a host name; nothing to compare
		return false
	}
	targetAddr := target.Addr().Unmap()

	for _, local := range locals {
		udpAddr, ok := local.(*net.UDPAddr)
		if !ok {
			continue
		}
		listener := udpAddr.AddrPort()
		if listener.Port() != target.Port() {
			continue
		}

		listenerAddr := listener.Addr().Unmap()
		if listenerAddr == targetAddr {
			return true
		}
		if listenerAddr.IsUnspecified() && (targetAddr.IsLoopback() || targetAddr.IsUnspecified()) {
			return true
		}
	}

	return false
}

// Accepts "host", "host:port" and "[v6]:port"; port defaults to 53.
func upstreamAddr(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(strings.Trim(server, "[]"), "53")
}
