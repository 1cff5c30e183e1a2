package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"linux-shaderpaper/internal/config"
	"linux-shaderpaper/internal/display"
	"linux-shaderpaper/internal/power"
	"linux-shaderpaper/internal/utils"
)

// headless stands in for the screen when no X server answers.
var headless = display.Info{
	ID:       display.ID(config.DefaultDisplay),
	Name:     "window",
	Primary:  true,
	Geometry: display.Geometry{Width: 1280, Height: 720, Scale: 1},
}

type screens struct {
	source      display.Source
	bounds      display.Geometry
	markDesktop func(title string) error
}

// openDisplays connects to X11, or falls back to one plain window.
func openDisplays(ctx context.Context) (*screens, error) {
	x, err := display.NewX11()
	if err != nil {
		utils.L().Warn("X11 unavailable, drawing into a single window", zap.Error(err))
		return &screens{source: display.NewStatic(headless), bounds: headless.Geometry}, nil
	}
	infos, err := x.Displays(ctx)
	if err != nil {
		_ = x.Close()
		return nil, fmt.Errorf("list displays: %w", err)
	}
	for _, d := range infos {
		utils.L().Info("display found",
			zap.String("display", string(d.ID)),
			zap.Stringer("geometry", d.Geometry),
			zap.Bool("primary", d.Primary))
	}
	return &screens{source: x, bounds: display.Bounds(infos), markDesktop: x.MarkDesktop}, nil
}

// openPower watches UPower, or assumes AC power without it.
func openPower() power.Source {
	u, err := power.NewUPower(power.DefaultRefresh)
	if err != nil {
		utils.L().Warn("UPower unavailable, assuming AC power", zap.Error(err))
		return power.NewStatic(power.State{})
	}
	utils.L().Info("power state", zap.Stringer("power", u.Current()))
	return u
}
