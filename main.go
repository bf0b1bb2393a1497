package main

import (
	"embed"
	"log/slog"

	"github.com/wailsapp/wails/v3/pkg/application"
	"github.com/wailsapp/wails/v3/pkg/events"

	"go.evewatch.dev/evewatch/internal/app"
)

//go:embed all:frontend/dist
var assets embed.FS

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	slog.Info("starting app", "version", version, "commit", commit, "date", date)
	service := app.New(version)

	wailsApp := application.New(application.Options{
		Name:        "EveWatch",
		Description: "Overview watcher with enemy presence alerts",
		Services: []application.Service{
			application.NewService(service),
		},
		Assets: application.AssetOptions{
			Handler: application.BundledAssetFileServer(assets),
		},
		Mac: application.MacOptions{
			// Keep running in the tray when the overlay is closed.
			ApplicationShouldTerminateAfterLastWindowClosed: false,
		},
	})

	// Small always-on-top overlay.
	overlay := wailsApp.Window.NewWithOptions(application.WebviewWindowOptions{
		Title:       "EveWatch",
		Width:       360,
		Height:      480,
		URL:         "/",
		AlwaysOnTop: true,
		Frameless:   true,
		Mac: application.MacWindow{
			TitleBar:                application.MacTitleBarHiddenInsetUnified,
			InvisibleTitleBarHeight: 38,
		},
		DevToolsEnabled: true,
	})

	// Hide instead of destroy so the tray can reopen it.
	overlay.RegisterHook(events.Common.WindowClosing, func(e *application.WindowEvent) {
		e.Cancel()
		overlay.Hide()
	})

	service.Init(wailsApp, overlay)

	systemTray := wailsApp.SystemTray.New()
	trayMenu := wailsApp.NewMenu()
	trayMenu.Add("Show overlay").OnClick(func(ctx *application.Context) {
		overlay.Show()
		overlay.Focus()
	})
	trayMenu.AddCheckbox("Mute alerts", false).
		OnClick(func(ctx *application.Context) {
			service.SetMuted(ctx.ClickedMenuItem().Checked())
		})

	trayMenu.AddSeparator()
	trayMenu.Add("Quit").
		SetAccelerator("CmdOrCtrl+Q").
		OnClick(func(ctx *application.Context) {
			service.Shutdown()
			wailsApp.Quit()
		})

	systemTray.SetMenu(trayMenu)

	if err := wailsApp.Run(); err != nil {
		slog.Error("run app", "error", err)
	}
}
