// Package hotplug is the device's kernel event listener: it watches
// for connector state changes and re-resolves the affected
// connector's modes, handing the caller a stream of Connected/
// Disconnected transitions to drive the hwc facade's Hotplug callback.
//
// The primary source is the kernel's uevent netlink socket (the same
// mechanism udev itself listens on). When that's unavailable — no
// CAP_NET_ADMIN, or a sandbox with no netlink support at all — the
// Watcher falls back to an fsnotify watch on /sys/class/drm, and if
// even that can't be set up (the directory doesn't exist, e.g. under
// test), to a fixed-interval poll. Every path ends the same way: a
// connector may have changed, so re-read its state through the device
// backend and diff against what was last seen.
package hotplug

import (
	"bytes"
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/helixml/drmhwc/api/pkg/kms/device"
	"github.com/helixml/drmhwc/api/pkg/kms/types"
)

// sysfsDRMClass is where the kernel publishes per-connector status
// files; watching the directory catches both new/removed connectors
// and status-file rewrites on existing ones.
const sysfsDRMClass = "/sys/class/drm"

// Event reports a connector's connection-state transition.
type Event struct {
	DisplayIdx int
	ConnID     uint32
	Connected  bool
}

// Callback is invoked once per connector whose state changed.
type Callback func(Event)

// Watcher owns the device's hotplug event source.
type Watcher struct {
	dev          *device.Device
	pollInterval time.Duration
	log          zerolog.Logger

	lastConnection map[uint32]types.ConnectionState
}

// New builds a Watcher for dev. pollInterval governs the fsnotify/sysfs
// fallback cadence used when the netlink socket can't be opened.
func New(dev *device.Device, pollInterval time.Duration, log zerolog.Logger) *Watcher {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Watcher{dev: dev, pollInterval: pollInterval, log: log.With().Str("component", "hotplug").Logger()}
}

// Run blocks, invoking cb for every connector transition, until ctx is
// canceled. It prefers the netlink uevent socket, then fsnotify, then
// plain polling, falling through each tier only if the previous one
// can't be established at all.
func (w *Watcher) Run(ctx context.Context, cb Callback) error {
	// Prime every routed connector's state by running one refresh before
	// entering the event loop; this fires an initial Connected event for
	// each already-attached display, matching how a fresh udev monitor
	// replays the current state on startup.
	w.refresh(cb)

	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		w.log.Warn().Err(err).Msg("netlink uevent socket unavailable, falling back to fsnotify")
		return w.runFsnotify(ctx, cb)
	}
	sa := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: 1}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		w.log.Warn().Err(err).Msg("binding netlink uevent socket failed, falling back to fsnotify")
		return w.runFsnotify(ctx, cb)
	}
	w.log.Info().Msg("listening for drm uevents over netlink")

	go func() {
		<-ctx.Done()
		unix.Close(fd)
	}()

	buf := make([]byte, 8192)
	for {
		n, _, err := unix.Recvfrom(fd, buf, 0)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Warn().Err(err).Msg("netlink uevent read failed")
			return w.runFsnotify(ctx, cb)
		}
		if isDRMUevent(buf[:n]) {
			w.refresh(cb)
		}
	}
}

// isDRMUevent reports whether a raw uevent message concerns the drm
// subsystem (SUBSYSTEM=drm among its NUL-separated KEY=VALUE fields).
func isDRMUevent(msg []byte) bool {
	for _, field := range bytes.Split(msg, []byte{0}) {
		if string(field) == "SUBSYSTEM=drm" {
			return true
		}
	}
	return false
}

// runFsnotify watches sysfsDRMClass for any write/create/remove and
// triggers a refresh on each, with a slow ticker underneath in case a
// watch is silently dropped (fsnotify gives no delivery guarantee
// across a remount). If the watch can't even be established, falls
// back to plain polling.
func (w *Watcher) runFsnotify(ctx context.Context, cb Callback) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Warn().Err(err).Msg("fsnotify unavailable, falling back to polling")
		return w.runPoll(ctx, cb)
	}
	defer watcher.Close()

	if err := watcher.Add(sysfsDRMClass); err != nil {
		w.log.Warn().Err(err).Str("path", sysfsDRMClass).Msg("watching drm sysfs class failed, falling back to polling")
		return w.runPoll(ctx, cb)
	}
	w.log.Info().Str("path", sysfsDRMClass).Msg("watching drm sysfs class via fsnotify")

	safety := time.NewTicker(10 * w.pollInterval)
	defer safety.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.refresh(cb)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("fsnotify watch error")
		case <-safety.C:
			w.refresh(cb)
		}
	}
}

func (w *Watcher) runPoll(ctx context.Context, cb Callback) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.refresh(cb)
		}
	}
}

// refresh re-reads every routed connector's modes/connection state and
// fires cb for any that changed since the previous call.
func (w *Watcher) refresh(cb Callback) {
	if w.lastConnection == nil {
		w.lastConnection = make(map[uint32]types.ConnectionState)
	}
	for _, idx := range w.dev.Displays() {
		conn, ok := w.dev.Connector(idx)
		if !ok {
			continue
		}
		if err := w.dev.UpdateModes(conn.ID); err != nil {
			w.log.Warn().Err(err).Uint32("connector", conn.ID).Msg("failed updating connector modes")
			continue
		}
		prev, known := w.lastConnection[conn.ID]
		w.lastConnection[conn.ID] = conn.Connection
		if known && prev == conn.Connection {
			continue
		}
		connected := conn.Connection == types.ConnectionConnected
		w.log.Info().Int("display", idx).Uint32("connector", conn.ID).Bool("connected", connected).Msg("connector state changed")
		cb(Event{DisplayIdx: idx, ConnID: conn.ID, Connected: connected})
	}
}
