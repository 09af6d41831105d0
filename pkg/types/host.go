package types

import (
	"net"
	"strconv"
)

const DefaultSSHPort = 22

// Reachability is the probe state of a host.
type Reachability uint8

const (
	ReachabilityUnknown Reachability = iota
	ReachabilityReachable
	ReachabilityUnreachable
)

func (r Reachability) String() string {
	switch r {
	case ReachabilityReachable:
		return "reachable"
	case ReachabilityUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Host is a single patch target.
type Host struct {
	Name         string
	Address      string
	Port         int
	Username     string
	Reachability Reachability
}

// Addr returns the host:port dial address, defaulting the SSH port.
func (h Host) Addr() string {
	port := h.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(h.Address, strconv.Itoa(port))
}

// Label returns the name used in logs and reports.
func (h Host) Label() string {
	if h.Name != "" {
		return h.Name
	}
	return h.Address
}
