// Package endpoint works out the URLs other devices on the network can use to
// reach this host, and pre-renders a QR code for each of them.
package endpoint

import (
	"fmt"
	"log"
	"net"
	"net/netip"
	"sort"

	"github.com/jackpal/gateway"
)

// Endpoint is one reachable base URL. Endpoints are built once at startup and
// never modified.
type Endpoint struct {
	URL       string
	Loopback  bool
	Interface string
	Addr      netip.Addr
	// Preferred marks the address on the same network as the default gateway,
	// the one most likely to work from a phone on the same Wi-Fi.
	Preferred bool
	// QRSVG is the QR code of URL as an inline <svg> element.
	QRSVG string

	document string
}

// Document returns the QR code as a standalone SVG file.
func (e Endpoint) Document() string { return e.document }

// Interface is a network interface as seen by Discover.
type Interface struct {
	Name  string
	Flags net.Flags
	Addrs []net.Addr
	// Err is set when the addresses of this interface could not be read.
	Err error
}

// Source lists network interfaces.
type Source interface {
	Interfaces() ([]Interface, error)
}

// SystemSource reads the host's interfaces.
type SystemSource struct{}

// Interfaces lists every interface with its addresses. An interface whose
// addresses cannot be read is returned with Err set.
func (SystemSource) Interfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve network interfaces: %w", err)
	}
	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		out = append(out, Interface{
			Name:  iface.Name,
			Flags: iface.Flags,
			Addrs: addrs,
			Err:   err,
		})
	}
	return out, nil
}

// SystemGateway returns the host's default gateway.
func SystemGateway() (net.IP, error) {
	return gateway.DiscoverGateway()
}

// Options configures Discover.
type Options struct {
	Port int
	// Host is the address the server binds. A specific IP, or a host name
	// resolving to some, limits the result to endpoints carrying those
	// addresses; "" or a wildcard keeps all of them.
	Host string
	// LookupIP resolves a Host that is not an IP literal. Nil means
	// net.LookupIP.
	LookupIP func(host string) ([]net.IP, error)
	// Gateway looks up the default gateway used to pick the preferred
	// endpoint. Nil disables the lookup.
	Gateway func() (net.IP, error)
	Logger  *log.Logger
}

// Discover builds the endpoint list from src. Problems with a single
// interface or address are logged and skipped; only a failure to list
// interfaces at all is returned.
func Discover(src Source, opts Options) ([]Endpoint, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	ifaces, err := src.Interfaces()
	if err != nil {
		return nil, err
	}

	var gw net.IP
	if opts.Gateway != nil {
		if gw, err = opts.Gateway(); err != nil {
			logger.Printf("Warning: failed to discover gateway: %v", err)
			gw = nil
		}
	}

	only, err := hostAddrs(opts)
	if err != nil {
		logger.Printf("Warning: failed to resolve host %s: %v", opts.Host, err)
	}

	var eps []Endpoint
	for _, iface := range ifaces {
		// Skip interfaces that are disabled or have no link.
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagRunning == 0 {
			continue
		}
		if iface.Err != nil {
			logger.Printf("Warning: failed to get addresses for interface %s: %v", iface.Name, iface.Err)
			continue
		}
		for _, a := range iface.Addrs {
			ip, network := addrIP(a)
			addr, ok := netip.AddrFromSlice(ip)
			if !ok {
				continue
			}
			addr = addr.Unmap()
			if addr.Is6() && addr.IsLinkLocalUnicast() {
				continue
			}
			if only != nil && !only[addr] {
				continue
			}
			ep, err := newEndpoint(addr, opts.Port)
			if err != nil {
				logger.Printf("Warning: skipping %s on %s: %v", addr, iface.Name, err)
				continue
			}
			ep.Interface = iface.Name
			ep.Loopback = iface.Flags&net.FlagLoopback != 0 || addr.IsLoopback()
			ep.Preferred = gw != nil && network != nil && !ep.Loopback && network.Contains(gw)
			eps = append(eps, ep)
		}
	}

	sort.SliceStable(eps, func(i, j int) bool {
		a, b := eps[i], eps[j]
		if a.Loopback != b.Loopback {
			return !a.Loopback
		}
		if a.Interface != b.Interface {
			return a.Interface < b.Interface
		}
		return a.Addr.Less(b.Addr)
	})
	return eps, nil
}

// hostAddrs returns the addresses opts.Host stands for, or nil when every
// address is served.
func hostAddrs(opts Options) (map[netip.Addr]bool, error) {
	if opts.Host == "" {
		return nil, nil
	}
	if h, err := netip.ParseAddr(opts.Host); err == nil {
		if h.IsUnspecified() {
			return nil, nil
		}
		return map[netip.Addr]bool{h.Unmap(): true}, nil
	}
	lookup := opts.LookupIP
	if lookup == nil {
		lookup = net.LookupIP
	}
	ips, err := lookup(opts.Host)
	if err != nil {
		return nil, err
	}
	only := make(map[netip.Addr]bool, len(ips))
	for _, ip := range ips {
		if a, ok := netip.AddrFromSlice(ip); ok {
			only[a.Unmap()] = true
		}
	}
	return only, nil
}

// URL formats the base URL for addr, bracketing IPv6 literals.
func URL(addr netip.Addr, port int) string {
	return "http://" + netip.AddrPortFrom(addr, uint16(port)).String()
}

func newEndpoint(addr netip.Addr, port int) (Endpoint, error) {
	u := URL(addr, port)
	doc, err := renderSVG(u)
	if err != nil {
		return Endpoint{}, err
	}
	return Endpoint{
		URL:      u,
		Addr:     addr,
		QRSVG:    inlineSVG(doc),
		document: doc,
	}, nil
}

func addrIP(a net.Addr) (net.IP, *net.IPNet) {
	switch v := a.(type) {
	case *net.IPNet:
		return v.IP, v
	case *net.IPAddr:
		return v.IP, nil
	}
	return nil, nil
}

// Reachable returns the endpoints usable from another device, dropping
// loopback ones.
func Reachable(eps []Endpoint) []Endpoint {
	out := make([]Endpoint, 0, len(eps))
	for _, e := range eps {
		if !e.Loopback {
			out = append(out, e)
		}
	}
	return out
}

// Preferred returns the endpoint on the default gateway's network, falling
// back to the first reachable endpoint.
func Preferred(eps []Endpoint) (Endpoint, bool) {
	r := Reachable(eps)
	for _, e := range r {
		if e.Preferred {
			return e, true
		}
	}
	if len(r) > 0 {
		return r[0], true
	}
	return Endpoint{}, false
}
