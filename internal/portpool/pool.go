// Package portpool allocates unique host and container ports out of
// bounded ranges, probing host-port liveness with a non-blocking bind.
package portpool

import (
	"fmt"
	"net"
	"sync"

	"github.com/krinkuto11/ace-orchestrator/internal/config"
	"github.com/krinkuto11/ace-orchestrator/internal/orcherr"
)

// Range names a configured port range, matching a config.PortRange.
type Range string

const (
	RangeHost      Range = "PORT_RANGE_HOST"
	RangeAceHTTP   Range = "ACE_HTTP_RANGE"
	RangeAceHTTPS  Range = "ACE_HTTPS_RANGE"
)

type rangeState struct {
	mu   sync.Mutex
	lo   int
	hi   int
	used map[int]bool
}

// Pool reserves ports from the three ranges the provisioner draws from.
type Pool struct {
	ranges map[Range]*rangeState
	// probeBind is overridden in tests to avoid binding real sockets.
	probeBind func(port int) bool
}

// New builds a Pool from the three configured ranges.
func New(host, aceHTTP, aceHTTPS config.PortRange) *Pool {
	p := &Pool{
		ranges: map[Range]*rangeState{
			RangeHost:     {lo: host.Lo, hi: host.Hi, used: make(map[int]bool)},
			RangeAceHTTP:  {lo: aceHTTP.Lo, hi: aceHTTP.Hi, used: make(map[int]bool)},
			RangeAceHTTPS: {lo: aceHTTPS.Lo, hi: aceHTTPS.Hi, used: make(map[int]bool)},
		},
	}
	p.probeBind = defaultProbeBind
	return p
}

func defaultProbeBind(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// AllocateHost reserves a port from PORT_RANGE_HOST.
func (p *Pool) AllocateHost() (int, error) {
	return p.allocate(RangeHost, true)
}

// AllocateContainerHTTP reserves a port from ACE_HTTP_RANGE.
func (p *Pool) AllocateContainerHTTP() (int, error) {
	return p.allocate(RangeAceHTTP, false)
}

// AllocateContainerHTTPS reserves a port from ACE_HTTPS_RANGE.
func (p *Pool) AllocateContainerHTTPS() (int, error) {
	return p.allocate(RangeAceHTTPS, false)
}

// allocate returns the lowest free port in the range. When probe is true
// each candidate is bind-probed on the host before being handed out; a
// failed probe marks the port used and the scan continues, but the whole
// range is scanned at most once.
func (p *Pool) allocate(r Range, probe bool) (int, error) {
	rs := p.ranges[r]
	rs.mu.Lock()
	defer rs.mu.Unlock()

	for port := rs.lo; port <= rs.hi; port++ {
		if rs.used[port] {
			continue
		}
		if probe && p.probeBind != nil && !p.probeBind(port) {
			rs.used[port] = true
			continue
		}
		rs.used[port] = true
		return port, nil
	}
	return 0, &orcherr.PortExhausted{Range: string(r)}
}

// AllocateContainerPair reserves one port from each of the two container
// ranges, guaranteeing the two values are distinct (true whenever the
// ranges don't overlap; retried if they do).
func (p *Pool) AllocateContainerPair() (httpPort, httpsPort int, err error) {
	httpPort, err = p.AllocateContainerHTTP()
	if err != nil {
		return 0, 0, err
	}
	httpsPort, err = p.AllocateContainerHTTPS()
	if err != nil {
		p.Release(RangeAceHTTP, httpPort)
		return 0, 0, err
	}
	if httpPort == httpsPort {
		dup := httpsPort
		httpsPort, err = p.AllocateContainerHTTPS()
		p.Release(RangeAceHTTPS, dup)
		if err != nil {
			p.Release(RangeAceHTTP, httpPort)
			return 0, 0, err
		}
	}
	return httpPort, httpsPort, nil
}

// Release returns a port to its range's free pool.
func (p *Pool) Release(r Range, port int) {
	rs, ok := p.ranges[r]
	if !ok {
		return
	}
	rs.mu.Lock()
	delete(rs.used, port)
	rs.mu.Unlock()
}

// MarkUsed excludes a port from future allocation without claiming a
// logical reservation slot for it; used by the boot-time reindexer.
func (p *Pool) MarkUsed(r Range, port int) {
	rs, ok := p.ranges[r]
	if !ok {
		return
	}
	rs.mu.Lock()
	rs.used[port] = true
	rs.mu.Unlock()
}

// SetProbe overrides the host-port liveness probe, for tests.
func (p *Pool) SetProbe(f func(port int) bool) {
	p.probeBind = f
}
