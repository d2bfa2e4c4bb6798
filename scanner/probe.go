package scanner

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"printmaster/telemetry/common/logger"
)

// DefaultProbePorts are tried in priority order: management HTTP, raw print
// (JetDirect), SNMP, LPD, IPP.
var DefaultProbePorts = []int{80, 9100, 161, 515, 631}

// DefaultProbeTimeout bounds each connect attempt.
const DefaultProbeTimeout = 400 * time.Millisecond

// ProbeResult reports the outcome of a connectivity check. It is never an
// error; Reason explains a failure and Err wraps ErrUnreachable.
type ProbeResult struct {
	Address   string        `json:"address"`
	Reachable bool          `json:"reachable"`
	Port      int           `json:"port,omitempty"`
	Attempts  int           `json:"attempts"`
	Elapsed   time.Duration `json:"elapsed"`
	Reason    string        `json:"reason,omitempty"`
	Err       error         `json:"-"`
}

// DialFunc matches net.Dialer.DialContext so tests can fake connects.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Prober performs the multi-port reachability check.
type Prober struct {
	Ports   []int
	Timeout time.Duration
	Dial    DialFunc
}

// NewProber returns a Prober with defaults applied for empty settings.
func NewProber(ports []int, timeout time.Duration) *Prober {
	if len(ports) == 0 {
		ports = DefaultProbePorts
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	d := &net.Dialer{}
	return &Prober{Ports: ports, Timeout: timeout, Dial: d.DialContext}
}

// ProbeConnectivity checks address with the default port list.
func ProbeConnectivity(ctx context.Context, address string, timeout time.Duration) ProbeResult {
	return NewProber(nil, timeout).Probe(ctx, address)
}

// Probe tries each port in order and returns on the first successful connect.
// Worst case latency is Timeout × len(Ports).
func (p *Prober) Probe(ctx context.Context, address string) ProbeResult {
	start := time.Now()
	res := ProbeResult{Address: address}

	if address == "" {
		res.Reason = "no address configured"
		res.Err = fmt.Errorf("%w: %s", ErrUnreachable, res.Reason)
		return res
	}

	for _, port := range p.Ports {
		if ctx.Err() != nil {
			res.Reason = "probe cancelled: " + ctx.Err().Error()
			res.Err = fmt.Errorf("%w: %s", ErrUnreachable, res.Reason)
			res.Elapsed = time.Since(start)
			return res
		}

		res.Attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		conn, err := p.Dial(attemptCtx, "tcp", net.JoinHostPort(address, strconv.Itoa(port)))
		cancel()
		if err != nil {
			if logger.Global != nil {
				logger.Global.TraceTag("probe", "Port closed", "ip", address, "port", port, "error", err.Error())
			}
			continue
		}
		conn.Close()

		res.Reachable = true
		res.Port = port
		res.Elapsed = time.Since(start)
		return res
	}

	res.Elapsed = time.Since(start)
	res.Reason = fmt.Sprintf("no response on ports %v within %s each", p.Ports, p.Timeout)
	res.Err = fmt.Errorf("%w: %s", ErrUnreachable, res.Reason)
	return res
}
