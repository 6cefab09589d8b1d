/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package defn

import (
	"encoding/hex"
	"errors"
	"net"
	"net/netip"
	"regexp"
	"strings"
)

// ErrInvalidAddress is returned when an address cannot be constructed from its parts.
var ErrInvalidAddress = errors.New("invalid address")

// AddressFamily is the on-wire discriminant of an address variant.
type AddressFamily uint8

// Address families.
const (
	AddressNone    AddressFamily = 0
	AddressInet    AddressFamily = 1
	AddressInet6   AddressFamily = 2
	AddressPipe    AddressFamily = 3
	AddressMac     AddressFamily = 4
	AddressGeneric AddressFamily = 5
	AddressUri     AddressFamily = 6
)

func (f AddressFamily) String() string {
	switch f {
	case AddressNone:
		return "none"
	case AddressInet:
		return "inet"
	case AddressInet6:
		return "inet6"
	case AddressPipe:
		return "pipe"
	case AddressMac:
		return "mac"
	case AddressGeneric:
		return "generic"
	case AddressUri:
		return "uri"
	default:
		return "unknown"
	}
}

// LocalHost is the host part of pipe addresses that refer to this machine.
const LocalHost = "."

const pipePattern = `^pipe://(?P<host>[^/]+)/(?P<name>.+)$`
const macPattern = `^mac://\[(?P<mac>[0-9A-Fa-f:]+)\]$`

var pipeRegex = regexp.MustCompile(pipePattern)
var macRegex = regexp.MustCompile(macPattern)

// Address identifies an endpoint. It is an immutable tagged value; the zero value is the empty address.
type Address struct {
	family AddressFamily
	value  string // family-specific bytes, stored as a string so that Address is comparable
}

// MakeInetAddress constructs a numeric network address. IPv4-mapped IPv6 addresses are unmapped.
func MakeInetAddress(ip netip.Addr) Address {
	ip = ip.Unmap()
	if ip.Is4() {
		raw := ip.As4()
		return Address{family: AddressInet, value: string(raw[:])}
	}
	raw := ip.As16()
	return Address{family: AddressInet6, value: string(raw[:])}
}

// MakePipeAddress constructs a local-channel address from a host and a channel name.
func MakePipeAddress(host string, name string) Address {
	if host == "" || strings.EqualFold(host, "localhost") {
		host = LocalHost
	}
	return Address{family: AddressPipe, value: host + "/" + name}
}

// MakeMacAddress constructs a MAC address.
func MakeMacAddress(mac net.HardwareAddr) Address {
	return Address{family: AddressMac, value: string(mac)}
}

// MakeGenericAddress constructs an address from an opaque byte vector.
func MakeGenericAddress(raw []byte) Address {
	return Address{family: AddressGeneric, value: string(raw)}
}

// MakeUriAddress constructs an address holding a URI, e.g. ws://host:port/path.
func MakeUriAddress(uri string) Address {
	return Address{family: AddressUri, value: uri}
}

// MakeAddressFromBytes reconstructs an address from its family and family-specific bytes.
func MakeAddressFromBytes(family AddressFamily, raw []byte) (Address, error) {
	switch family {
	case AddressNone:
		if len(raw) != 0 {
			return Address{}, ErrInvalidAddress
		}
		return Address{}, nil
	case AddressInet:
		if len(raw) != 4 {
			return Address{}, ErrInvalidAddress
		}
	case AddressInet6:
		if len(raw) != 16 {
			return Address{}, ErrInvalidAddress
		}
	case AddressMac:
		if len(raw) != 6 && len(raw) != 8 {
			return Address{}, ErrInvalidAddress
		}
	case AddressPipe:
		if !strings.Contains(string(raw), "/") {
			return Address{}, ErrInvalidAddress
		}
	case AddressGeneric, AddressUri:
	default:
		return Address{}, ErrInvalidAddress
	}
	return Address{family: family, value: string(raw)}, nil
}

// ParseAddress parses the canonical string form produced by Address.String.
func ParseAddress(str string) (Address, error) {
	switch {
	case str == "":
		return Address{}, nil
	case strings.HasPrefix(str, "inet://"), strings.HasPrefix(str, "inet6://"):
		host := str[strings.Index(str, "://")+3:]
		ip, err := netip.ParseAddr(strings.Trim(host, "[]"))
		if err != nil {
			return Address{}, ErrInvalidAddress
		}
		return MakeInetAddress(ip), nil
	case strings.HasPrefix(str, "pipe://"):
		matches := pipeRegex.FindStringSubmatch(str)
		if matches == nil {
			return Address{}, ErrInvalidAddress
		}
		return MakePipeAddress(matches[pipeRegex.SubexpIndex("host")], matches[pipeRegex.SubexpIndex("name")]), nil
	case strings.HasPrefix(str, "mac://"):
		matches := macRegex.FindStringSubmatch(str)
		if matches == nil {
			return Address{}, ErrInvalidAddress
		}
		mac, err := net.ParseMAC(matches[macRegex.SubexpIndex("mac")])
		if err != nil {
			return Address{}, ErrInvalidAddress
		}
		return MakeMacAddress(mac), nil
	case strings.HasPrefix(str, "generic://"):
		raw, err := hex.DecodeString(strings.TrimPrefix(str, "generic://"))
		if err != nil {
			return Address{}, ErrInvalidAddress
		}
		return MakeGenericAddress(raw), nil
	case strings.Contains(str, "://"):
		return MakeUriAddress(str), nil
	}
	return Address{}, ErrInvalidAddress
}

// Family returns the variant of the address.
func (a Address) Family() AddressFamily {
	return a.family
}

// IsEmpty returns whether this is the empty address.
func (a Address) IsEmpty() bool {
	return a.family == AddressNone
}

// Bytes returns a copy of the family-specific bytes of the address.
func (a Address) Bytes() []byte {
	return []byte(a.value)
}

// Equal returns whether two addresses have the same family and value.
func (a Address) Equal(other Address) bool {
	return a.family == other.family && a.value == other.value
}

// IP returns the network address for inet and inet6 addresses.
func (a Address) IP() (netip.Addr, bool) {
	switch a.family {
	case AddressInet, AddressInet6:
		ip, ok := netip.AddrFromSlice([]byte(a.value))
		return ip, ok
	}
	return netip.Addr{}, false
}

// MAC returns the hardware address of MAC addresses.
func (a Address) MAC() net.HardwareAddr {
	if a.family != AddressMac {
		return nil
	}
	return net.HardwareAddr(a.value)
}

// Host returns the host part of a pipe address.
func (a Address) Host() string {
	if a.family != AddressPipe {
		return ""
	}
	return a.value[:strings.Index(a.value, "/")]
}

// Name returns the channel name of a pipe address.
func (a Address) Name() string {
	if a.family != AddressPipe {
		return ""
	}
	return a.value[strings.Index(a.value, "/")+1:]
}

// URI returns the URI held by a URI address.
func (a Address) URI() string {
	if a.family != AddressUri {
		return ""
	}
	return a.value
}

// IsLocal returns whether a pipe address refers to this machine.
func (a Address) IsLocal() bool {
	return a.family == AddressPipe && a.Host() == LocalHost
}

// String returns the canonical string form of the address.
func (a Address) String() string {
	switch a.family {
	case AddressNone:
		return ""
	case AddressInet:
		ip, _ := a.IP()
		return "inet://" + ip.String()
	case AddressInet6:
		ip, _ := a.IP()
		return "inet6://[" + ip.String() + "]"
	case AddressPipe:
		return "pipe://" + a.value
	case AddressMac:
		return "mac://[" + a.MAC().String() + "]"
	case AddressGeneric:
		return "generic://" + hex.EncodeToString([]byte(a.value))
	case AddressUri:
		return a.value
	default:
		return "unknown://" + hex.EncodeToString([]byte(a.value))
	}
}
