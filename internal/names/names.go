package names

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/InsulaLabs/strata/internal/apierr"
)

const (
	MinNameLength     = 2
	MaxNameLength     = 48
	MaxNodeNameLength = 253

	MinVolumeNumber = 0
	MaxVolumeNumber = 65535

	MinNodeID = 0
	MaxNodeID = 31

	MinTCPPort = 1
	MaxTCPPort = 65535
)

// Identifier is anything a repository can key on.
type Identifier interface {
	comparable
	Canonical() string
}

// Name keeps the string as given for display and an upper case form that is
// used for equality and ordering.
type Name struct {
	canonical string
	display   string
}

func (n Name) Canonical() string { return n.canonical }
func (n Name) Display() string { return n.display }
func (n Name) String() string { return n.display }
func (n Name) IsZero() bool { return n.canonical == "" }

func (n Name) Less(o Name) bool { return n.canonical < o.canonical }

func newName(field, value string, maxLen int, extra string) (Name, error) {
	if len(value) < MinNameLength {
		return Name{}, apierr.NewValidation(field, value, "name too short")
	}
	if len(value) > maxLen {
		return Name{}, apierr.NewValidation(field, value, "name too long")
	}
	if !isAlpha(value[0]) {
		return Name{}, apierr.NewValidation(field, value, "name must start with a letter")
	}
	for i := 1; i < len(value); i++ {
		c := value[i]
		if isAlpha(c) || isDigit(c) || c == '_' || c == '-' || strings.IndexByte(extra, c) >= 0 {
			continue
		}
		return Name{}, apierr.NewValidation(field, value, "invalid character "+strconv.QuoteRune(rune(c)))
	}
	return Name{canonical: strings.ToUpper(value), display: value}, nil
}

func isAlpha(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isDigit(c byte) bool { return c >= '0' && c <= '9' }

type NodeName struct{ Name }
type ResourceName struct{ Name }
type ResourceGroupName struct{ Name }
type StorPoolName struct{ Name }
type NetInterfaceName struct{ Name }

func NewNodeName(s string) (NodeName, error) {
	n, err := newName("node name", s, MaxNodeNameLength, ".")
	return NodeName{n}, err
}

func NewResourceName(s string) (ResourceName, error) {
	n, err := newName("resource name", s, MaxNameLength, "")
	return ResourceName{n}, err
}

func NewResourceGroupName(s string) (ResourceGroupName, error) {
	n, err := newName("resource group name", s, MaxNameLength, "")
	return ResourceGroupName{n}, err
}

func NewStorPoolName(s string) (StorPoolName, error) {
	n, err := newName("storage pool name", s, MaxNameLength, "")
	return StorPoolName{n}, err
}

func NewNetInterfaceName(s string) (NetInterfaceName, error) {
	n, err := newName("network interface name", s, MaxNameLength, "")
	return NetInterfaceName{n}, err
}

// Must* helpers are for tests and compiled-in constants.

func MustNodeName(s string) NodeName {
	n, err := NewNodeName(s)
	if err != nil {
		panic(err)
	}
	return n
}

func MustResourceName(s string) ResourceName {
	n, err := NewResourceName(s)
	if err != nil {
		panic(err)
	}
	return n
}

func MustResourceGroupName(s string) ResourceGroupName {
	n, err := NewResourceGroupName(s)
	if err != nil {
		panic(err)
	}
	return n
}

func MustStorPoolName(s string) StorPoolName {
	n, err := NewStorPoolName(s)
	if err != nil {
		panic(err)
	}
	return n
}

type VolumeNumber int

func NewVolumeNumber(v int) (VolumeNumber, error) {
	if v < MinVolumeNumber || v > MaxVolumeNumber {
		return 0, apierr.NewValidation("volume number", strconv.Itoa(v), "out of range")
	}
	return VolumeNumber(v), nil
}

// Canonical is zero padded so that record keys sort numerically.
func (v VolumeNumber) Canonical() string { return fmt.Sprintf("%05d", int(v)) }

type NodeID int

func NewNodeID(v int) (NodeID, error) {
	if v < MinNodeID || v > MaxNodeID {
		return 0, apierr.NewValidation("node id", strconv.Itoa(v), "out of range")
	}
	return NodeID(v), nil
}

type TCPPort int

func NewTCPPort(v int) (TCPPort, error) {
	if v < MinTCPPort || v > MaxTCPPort {
		return 0, apierr.NewValidation("tcp port", strconv.Itoa(v), "out of range")
	}
	return TCPPort(v), nil
}
