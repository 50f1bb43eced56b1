// Command drmhwcd is the compositor daemon: it opens a DRM render
// node, resolves its display topology, and serves Validate/Present
// style composition requests over the hwc facade until terminated.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixml/drmhwc/api/pkg/config"
	"github.com/helixml/drmhwc/api/pkg/drmlog"
	"github.com/helixml/drmhwc/api/pkg/hwc"
	"github.com/helixml/drmhwc/api/pkg/kms/compositor"
	"github.com/helixml/drmhwc/api/pkg/kms/device"
	"github.com/helixml/drmhwc/api/pkg/kms/fb"
	"github.com/helixml/drmhwc/api/pkg/kms/hotplug"
	"github.com/helixml/drmhwc/api/pkg/kms/importer"
	"github.com/helixml/drmhwc/api/pkg/kms/planner"
	"github.com/helixml/drmhwc/api/pkg/resourcemgr"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "drmhwcd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}
	log := drmlog.New(cfg.LogLevel, cfg.LogPretty)
	log.Info().Str("drm_device", cfg.DRMDevice).Msg("starting drmhwcd")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dev, err := device.Open(cfg.DRMDevice)
	if err != nil {
		return fmt.Errorf("opening %s: %w", cfg.DRMDevice, err)
	}
	defer dev.Close()

	rm := resourcemgr.New(dev,
		importer.NewGeneric(dev.Backend().PrimeFDToHandle, dev.Backend().GemClose),
		importer.NewMinigbm(dev.Backend().PrimeFDToHandle, dev.Backend().GemClose),
	)

	fbMgr := fb.NewManager(dev.Backend().AddFB2, dev.Backend().RmFB, log)

	plan := planner.Default()
	if !cfg.UseOverlayPlanes {
		log.Info().Msg("overlay planes disabled by configuration; the setting is not applied, the planner still uses overlay planes")
	}

	facade, err := hwc.New(ctx, dev, hwc.Config{
		Planner:       plan,
		FBManager:     fbMgr,
		Importer:      rm.Importer,
		PreCompositor: compositor.NullPreCompositor{},
		Log:           log,
	})
	if err != nil {
		return fmt.Errorf("building hwc facade: %w", err)
	}

	for _, idx := range facade.Displays() {
		d, _ := facade.Display(idx)
		d.SetVsyncEnabled(ctx, true)
		log.Info().Int("display", idx).Msg("display routed")
	}

	if !cfg.UseFramebufferCache {
		log.Warn().Msg("framebuffer cache disabled by configuration; the setting is not applied, the cache stays in use")
	}

	watcher := hotplug.New(dev, time.Duration(cfg.HotplugPollIntervalMS)*time.Millisecond, log)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Run(gctx, func(ev hotplug.Event) {
			handleHotplug(facade, log, ev)
		})
	})

	<-ctx.Done()
	log.Info().Msg("shutting down")
	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Msg("hotplug watcher exited with error")
	}
	return nil
}

// handleHotplug reacts to a connector transition: on connect, power
// the display back on (it keeps targeting whatever mode was last set,
// typically the preferred one chosen at startup); on disconnect, power
// it off so its planes are disabled until something reconnects.
func handleHotplug(facade *hwc.Hwc, log zerolog.Logger, ev hotplug.Event) {
	d, ok := facade.Display(ev.DisplayIdx)
	if !ok {
		return
	}
	if !ev.Connected {
		if err := d.SetPowerMode(false); err != nil {
			log.Warn().Err(err).Int("display", ev.DisplayIdx).Msg("failed powering off disconnected display")
		}
		return
	}
	if err := d.SetPowerMode(true); err != nil {
		log.Warn().Err(err).Int("display", ev.DisplayIdx).Msg("failed powering on reconnected display")
	}
}
