// Package fb implements the framebuffer id cache: importing the same
// buffer twice must reuse the same fb_id, so every commit
// that repeats a buffer avoids a redundant ADDFB2 round trip.
package fb

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/helixml/drmhwc/api/pkg/kms/kmserrors"
	"github.com/helixml/drmhwc/api/pkg/kms/types"
)

// Key identifies a unique combination of gem handles backing a
// framebuffer; two imports producing the same handles for the same
// plane layout must collapse onto one cached entry.
type Key struct {
	PlaneCount int
	Handles    [4]uint32
	Width, Height uint32
	Format     types.FourCC
	Modifier   types.Modifier
}

// AddFB2Func issues the kernel ADDFB2 ioctl; it is the only point
// Manager talks to the device layer, so tests can swap in a fake.
type AddFB2Func func(width, height uint32, fourcc uint32, handles, pitches, offsets [4]uint32, modifiers [4]uint64, withModifiers bool) (uint32, error)

// RmFBFunc issues the kernel RMFB ioctl.
type RmFBFunc func(fbID uint32) error

type entry struct {
	fbID     uint32
	refCount int
}

// Manager is the reference-counted fb_id cache for one device. A
// single mutex protects it; critical sections are short lookups and
// map mutations, never the ioctl call itself, so a slow ADDFB2/RMFB
// never blocks an unrelated lookup for long.
type Manager struct {
	mu      sync.Mutex
	entries map[Key]*entry
	addFB2  AddFB2Func
	rmFB    RmFBFunc
	log     zerolog.Logger
}

// NewManager builds a Manager that calls addFB2/rmFB to actually
// create/destroy kernel framebuffers.
func NewManager(addFB2 AddFB2Func, rmFB RmFBFunc, log zerolog.Logger) *Manager {
	return &Manager{
		entries: make(map[Key]*entry),
		addFB2:  addFB2,
		rmFB:    rmFB,
		log:     log.With().Str("component", "fbcache").Logger(),
	}
}

// Pitches/offsets are caller-computed since they depend on the
// import path (dumb buffer vs. dmabuf vs. tiled), not on the cache key.
type Params struct {
	Key       Key
	Pitches   [4]uint32
	Offsets   [4]uint32
	Modifiers [4]uint64
	WithModifiers bool
}

// FindOrCreate returns the fb_id for p.Key, creating it via ADDFB2 on a
// cache miss and incrementing its refcount on a hit. Every successful
// call must be matched with exactly one Release.
func (m *Manager) FindOrCreate(p Params) (uint32, error) {
	m.mu.Lock()
	if e, ok := m.entries[p.Key]; ok {
		e.refCount++
		id := e.fbID
		m.mu.Unlock()
		return id, nil
	}
	m.mu.Unlock()

	handles := p.Key.Handles
	id, err := m.addFB2(p.Key.Width, p.Key.Height, uint32(p.Key.Format), handles, p.Pitches, p.Offsets, p.Modifiers, p.WithModifiers)
	if err != nil {
		return 0, kmserrors.New(kmserrors.KindNoResources, "fb.FindOrCreate", err)
	}

	m.mu.Lock()
	if e, ok := m.entries[p.Key]; ok {
		// lost the race against a concurrent importer; keep the
		// winner's fb_id and release the one we just created.
		e.refCount++
		winnerID := e.fbID
		m.mu.Unlock()
		if rmErr := m.rmFB(id); rmErr != nil {
			m.log.Warn().Err(rmErr).Uint32("fb_id", id).Msg("failed to remove redundant fb after race")
		}
		return winnerID, nil
	}
	m.entries[p.Key] = &entry{fbID: id, refCount: 1}
	m.mu.Unlock()
	return id, nil
}

// Release drops one reference on key's fb_id, destroying it via RMFB
// once the refcount reaches zero.
func (m *Manager) Release(key Key) error {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	e.refCount--
	if e.refCount > 0 {
		m.mu.Unlock()
		return nil
	}
	delete(m.entries, key)
	m.mu.Unlock()

	if err := m.rmFB(e.fbID); err != nil {
		return kmserrors.New(kmserrors.KindNoResources, "fb.Release", err)
	}
	return nil
}

// PurgeAll destroys every cached framebuffer regardless of refcount,
// used on device teardown.
func (m *Manager) PurgeAll() {
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[Key]*entry)
	m.mu.Unlock()

	for key, e := range entries {
		if err := m.rmFB(e.fbID); err != nil {
			m.log.Warn().Err(err).Uint32("format", uint32(key.Format)).Uint32("fb_id", e.fbID).Msg("failed to remove fb during purge")
		}
	}
}

// Len reports the number of distinct cached framebuffers, for tests
// and diagnostics.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
