// Package memory implements the replay memory manager: a flat 64-bit address
// space holding a read-only constant segment, a mutable volatile segment and any
// number of host-mapped absolute regions. Addresses outside those regions are
// "not observed" and must never be touched by the interpreter.
package memory

import (
	"fmt"

	"github.com/colorfulnotion/replay/log"
	"github.com/colorfulnotion/replay/replayerrors"
)

// Address is an absolute address in the replay address space. Zero is null.
type Address uint64

const (
	DefaultConstantBase     Address = 0x1000_0000
	DefaultVolatileBase     Address = 0x4000_0000
	DefaultVolatileCapacity uint32  = 1 << 24
)

// Config describes the segment layout of a Manager.
type Config struct {
	ConstantBase     Address
	VolatileBase     Address
	VolatileSize     uint32 // bytes reserved up front
	VolatileCapacity uint32 // upper bound for EXTEND reservations
}

// DefaultConfig returns the layout used when a capture does not specify one.
func DefaultConfig(volatileSize uint32) Config {
	return Config{
		ConstantBase:     DefaultConstantBase,
		VolatileBase:     DefaultVolatileBase,
		VolatileSize:     volatileSize,
		VolatileCapacity: DefaultVolatileCapacity,
	}
}

type region struct {
	name     string
	base     Address
	data     []byte
	writable bool
}

// contains reports whether [addr, addr+size) lies within the first n bytes of r.
func (r *region) contains(addr Address, size uint64, n uint64) bool {
	if addr < r.base {
		return false
	}
	off := uint64(addr - r.base)
	return off <= n && size <= n-off
}

func (r *region) overlaps(base Address, size uint64) bool {
	end := uint64(r.base) + uint64(len(r.data))
	return uint64(base) < end && uint64(r.base) < uint64(base)+size
}

// Manager owns the replay address space.
type Manager struct {
	constant region
	volatile region
	reserved uint32
	mapped   []*region
}

// NewManager builds a Manager with an empty constant segment and a volatile
// segment of cfg.VolatileSize reserved bytes.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.VolatileCapacity < cfg.VolatileSize {
		cfg.VolatileCapacity = cfg.VolatileSize
	}
	if cfg.ConstantBase == 0 || cfg.VolatileBase == 0 {
		return nil, fmt.Errorf("memory: segment bases must be non-null")
	}
	m := &Manager{
		constant: region{name: "constant", base: cfg.ConstantBase},
		volatile: region{name: "volatile", base: cfg.VolatileBase, data: make([]byte, cfg.VolatileCapacity), writable: true},
		reserved: cfg.VolatileSize,
	}
	if m.volatile.overlaps(cfg.ConstantBase, 1) {
		return nil, fmt.Errorf("memory: constant base 0x%x inside volatile segment", cfg.ConstantBase)
	}
	return m, nil
}

// SetConstantMemory installs the read-only constant segment. The slice is
// retained, not copied.
func (m *Manager) SetConstantMemory(data []byte) error {
	for _, r := range append([]*region{&m.volatile}, m.mapped...) {
		if r.overlaps(m.constant.base, uint64(len(data))) {
			return fmt.Errorf("memory: constant segment of %d bytes overlaps %s segment", len(data), r.name)
		}
	}
	m.constant.data = data
	log.Debug(log.MemoryMonitoring, "constant memory set", "base", fmt.Sprintf("0x%x", m.constant.base), "size", len(data))
	return nil
}

// Map registers a host-owned writable region as observed memory and returns
// its backing bytes.
func (m *Manager) Map(base Address, size uint64) ([]byte, error) {
	if base == 0 || size == 0 {
		return nil, fmt.Errorf("memory: invalid mapping 0x%x+%d", base, size)
	}
	for _, r := range m.regions() {
		if r.overlaps(base, size) {
			return nil, fmt.Errorf("memory: mapping 0x%x+%d overlaps %s segment", base, size, r.name)
		}
	}
	r := &region{name: "mapped", base: base, data: make([]byte, size), writable: true}
	m.mapped = append(m.mapped, r)
	log.Debug(log.MemoryMonitoring, "region mapped", "base", fmt.Sprintf("0x%x", base), "size", size)
	return r.data, nil
}

// Unmap removes a mapping previously created with Map.
func (m *Manager) Unmap(base Address) bool {
	for k, r := range m.mapped {
		if r.base == base {
			m.mapped = append(m.mapped[:k], m.mapped[k+1:]...)
			return true
		}
	}
	return false
}

func (m *Manager) regions() []*region {
	return append([]*region{&m.constant, &m.volatile}, m.mapped...)
}

// limit is the number of addressable bytes of r.
func (m *Manager) limit(r *region) uint64 {
	if r == &m.volatile {
		return uint64(m.reserved)
	}
	return uint64(len(r.data))
}

func (m *Manager) find(addr Address) *region {
	for _, r := range m.regions() {
		if r.contains(addr, 1, m.limit(r)) {
			return r
		}
	}
	return nil
}

// ConstantToAbsolute translates an offset into the constant segment.
func (m *Manager) ConstantToAbsolute(offset uint32) Address {
	return m.constant.base + Address(offset)
}

// VolatileToAbsolute translates an offset into the volatile segment.
func (m *Manager) VolatileToAbsolute(offset uint32) Address {
	return m.volatile.base + Address(offset)
}

func (m *Manager) IsConstantAddressWithSize(addr Address, size uint64) bool {
	return m.constant.contains(addr, size, uint64(len(m.constant.data)))
}

func (m *Manager) IsVolatileAddressWithSize(addr Address, size uint64) bool {
	return m.volatile.contains(addr, size, uint64(m.reserved))
}

func (m *Manager) IsConstantAddress(addr Address) bool {
	return m.IsConstantAddressWithSize(addr, 1)
}

// IsNotObservedAbsoluteAddress reports whether addr lies outside every region
// the manager tracks.
func (m *Manager) IsNotObservedAbsoluteAddress(addr Address) bool {
	return m.find(addr) == nil
}

// ExtendVolatile reserves size more bytes at the end of the volatile segment.
func (m *Manager) ExtendVolatile(size uint32) error {
	next := uint64(m.reserved) + uint64(size)
	if next > uint64(len(m.volatile.data)) {
		return fmt.Errorf("%w: %d + %d > %d", replayerrors.ErrAVolatileExhausted, m.reserved, size, len(m.volatile.data))
	}
	m.reserved = uint32(next)
	log.Debug(log.MemoryMonitoring, "volatile extended", "reserved", m.reserved)
	return nil
}

// VolatileSize returns the number of reserved volatile bytes.
func (m *Manager) VolatileSize() uint32 {
	return m.reserved
}

func (m *Manager) span(addr Address, size uint64) (*region, uint64, error) {
	r := m.find(addr)
	if r == nil {
		return nil, 0, fmt.Errorf("%w: 0x%x", replayerrors.ErrAUnobservedAddress, addr)
	}
	if !r.contains(addr, size, m.limit(r)) {
		return nil, 0, fmt.Errorf("%w: 0x%x+%d in %s segment", replayerrors.ErrAOutOfRange, addr, size, r.name)
	}
	return r, uint64(addr - r.base), nil
}

// Read returns a copy of size bytes starting at addr.
func (m *Manager) Read(addr Address, size uint64) ([]byte, error) {
	r, off, err := m.span(addr, size)
	if err != nil {
		return nil, err
	}
	out := make([]byte, size)
	copy(out, r.data[off:off+size])
	return out, nil
}

// Write stores data at addr.
func (m *Manager) Write(addr Address, data []byte) error {
	r, off, err := m.span(addr, uint64(len(data)))
	if err != nil {
		return err
	}
	if !r.writable {
		return fmt.Errorf("%w: 0x%x", replayerrors.ErrAConstantWrite, addr)
	}
	copy(r.data[off:], data)
	return nil
}
