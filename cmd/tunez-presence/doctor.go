package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/godbus/dbus/v5"

	"github.com/tunez/presence/internal/config"
	"github.com/tunez/presence/internal/logging"
	"github.com/tunez/presence/internal/ui"
)

func runDoctor(ctx context.Context, w io.Writer, path string) error {
	theme := ui.GetTheme("rainbow", ui.NoColorEnv())
	fmt.Fprintln(w, theme.Title.Render("tunez-presence doctor"))

	cfg, cfgPath, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(w, theme.Check(false, "config", "not found at "+cfgPath))
		} else {
			fmt.Fprintln(w, theme.Check(false, "config", err.Error()))
		}
		return err
	}
	theme = ui.GetTheme(cfg.UI.Theme, ui.NoColorEnv())
	fmt.Fprintln(w, theme.Check(true, "config", cfgPath))

	if dir, err := logging.StateDir(); err != nil {
		fmt.Fprintln(w, theme.Check(false, "state dir", err.Error()))
	} else {
		fmt.Fprintln(w, theme.Check(true, "state dir", dir))
	}

	failures := 0
	for _, e := range cfg.EnabledSources() {
		label := "source " + e.ID
		if err := probeSource(ctx, e); err != nil {
			failures++
			fmt.Fprintln(w, theme.Check(false, label, err.Error()))
			continue
		}
		fmt.Fprintln(w, theme.Check(true, label, e.Type))
	}
	for _, e := range cfg.Sinks {
		label := "sink " + e.ID
		if !e.Enabled {
			fmt.Fprintln(w, theme.Dim.Render("--   "+label+" disabled"))
			continue
		}
		fmt.Fprintln(w, theme.Check(true, label, e.Type))
	}

	if failures > 0 {
		return fmt.Errorf("%d source(s) unreachable", failures)
	}
	return nil
}

// probeSource checks that a source's player can be reached right now.
func probeSource(ctx context.Context, e config.Entry) error {
	switch e.Type {
	case "mpv":
		d := net.Dialer{Timeout: 2 * time.Second}
		conn, err := d.DialContext(ctx, "unix", e.String("ipc"))
		if err != nil {
			return fmt.Errorf("mpv socket: %w", err)
		}
		closeQuietly(conn)
		return nil
	case "mpd":
		addr := e.String("address")
		network := "tcp"
		if len(addr) > 0 && (addr[0] == '/' || addr[0] == '@') {
			network = "unix"
		}
		c, err := mpd.DialAuthenticated(network, addr, e.String("password"))
		if err != nil {
			return fmt.Errorf("mpd: %w", err)
		}
		defer closeQuietly(c)
		return c.Ping()
	case "mpris":
		conn, err := dbus.ConnectSessionBus()
		if err != nil {
			return fmt.Errorf("session bus: %w", err)
		}
		closeQuietly(conn)
		return nil
	default:
		return fmt.Errorf("unknown source type %q", e.Type)
	}
}
