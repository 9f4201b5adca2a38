/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/anima-core/engine"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/platform"
	"github.com/spaghettifunk/anima-core/testbed"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML configuration")
	backend := flag.String("backend", "", "renderer backend override: vulkan or headless")
	frames := flag.Uint64("frames", 0, "stop after this many frames with the headless backend; 0 runs until interrupted")
	flag.Parse()

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		core.LogFatal("%s", err)
	}
	if *backend != "" {
		cfg.Renderer.Backend = core.Backend(*backend)
		if err := cfg.Validate(); err != nil {
			core.LogFatal("%s", err)
		}
	}
	if err := core.SetLogLevel(cfg.Logging.Level); err != nil {
		core.LogWarn("ignoring log level %q: %s", cfg.Logging.Level, err)
	}

	events := core.NewEventBus()
	var window engine.Window
	if cfg.Renderer.Backend == core.BackendHeadless {
		window = engine.NewHeadlessWindow(events, *frames)
	} else {
		window = platform.New(events)
	}

	tb := testbed.NewTestGame()
	e, err := engine.New(tb.Game, engine.Options{
		Config:     cfg,
		ConfigPath: *configPath,
		Window:     window,
		Events:     events,
	})
	if err != nil {
		core.LogFatal("%s", err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	go func() {
		<-sigCh
		e.RequestQuit()
	}()

	if err := e.Initialize(); err != nil {
		core.LogError("%s", err)
		_ = e.Shutdown()
		os.Exit(1)
	}

	runErr := e.Run()
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown: %s", err)
	}
	if runErr != nil {
		core.LogFatal("%s", runErr)
	}
}
