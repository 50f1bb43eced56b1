// Package resourcemgr wires one open device.Device to the importer
// chain its hardware needs and brokers writeback-connector access for
// the (optional) screen-capture path, keeping that selection logic out
// of both hwc and device.
package resourcemgr

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/helixml/drmhwc/api/pkg/kms/device"
	"github.com/helixml/drmhwc/api/pkg/kms/importer"
	"github.com/helixml/drmhwc/api/pkg/kms/kmserrors"
)

// Manager owns one device.Device plus its derived importer chain, and
// mediates shared access to writeback connectors across callers.
type Manager struct {
	Dev      *device.Device
	Importer importer.Importer

	mu              sync.Mutex
	writebackLeases map[uint32]string // connector id -> lease token
}

// New builds a Manager, assembling the importer chain from the chain
// of allocator-specific importers supplied by the caller (the daemon's
// composition root decides which vendor importers this build needs).
func New(dev *device.Device, importers ...importer.Importer) *Manager {
	return &Manager{
		Dev:             dev,
		Importer:        importer.NewChain(importers...),
		writebackLeases: make(map[uint32]string),
	}
}

// LeaseWriteback claims connID for exclusive use (e.g. a screen-record
// session), failing if it's already leased. The returned token must be
// presented to ReleaseWriteback, so one caller can't accidentally drop
// a lease it doesn't hold.
func (m *Manager) LeaseWriteback(connID uint32) (token string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, leased := m.writebackLeases[connID]; leased {
		return "", kmserrors.New(kmserrors.KindNoResources, "resourcemgr.LeaseWriteback", fmt.Errorf("writeback connector %d already leased", connID))
	}
	token = uuid.NewString()
	m.writebackLeases[connID] = token
	return token, nil
}

// ReleaseWriteback frees connID's lease if token matches the one
// LeaseWriteback issued.
func (m *Manager) ReleaseWriteback(connID uint32, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	held, leased := m.writebackLeases[connID]
	if !leased {
		return nil
	}
	if held != token {
		return kmserrors.New(kmserrors.KindBadParameter, "resourcemgr.ReleaseWriteback", fmt.Errorf("token does not match current lease on connector %d", connID))
	}
	delete(m.writebackLeases, connID)
	return nil
}

// IsWritebackLeased reports whether connID currently has an active
// lease.
func (m *Manager) IsWritebackLeased(connID uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, leased := m.writebackLeases[connID]
	return leased
}

// Close tears down the underlying device.
func (m *Manager) Close() error {
	return m.Dev.Close()
}
