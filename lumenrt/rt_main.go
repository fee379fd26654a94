package main

import (
	"context"
	"flag"
	"runtime"
	"time"

	"github.com/gekko3d/lumen"
	"github.com/gekko3d/lumen/lumenrt/rt/app"

	"github.com/go-gl/glfw/v3.3/glfw"
)

var _ app.Renderer = (*lumen.Level)(nil)

func init() {
	runtime.LockOSThread()
}

func main() {
	levelPath := flag.String("level", "", "Level descriptor (JSON); built-in demo level when empty")
	debug := flag.Bool("debug", false, "Enable debug logging and editor overlays")
	stats := flag.Bool("stats", true, "Show the profiler overlay")
	telemetry := flag.String("telemetry", "", "Serve profiler snapshots on ws://<addr>/stats, e.g. localhost:8090")
	font := flag.String("font", "", "TrueType font for the overlay")
	flag.Parse()

	cfg := lumen.DefaultLevelConfig()
	if *levelPath != "" {
		var err error
		if cfg, err = lumen.LoadLevelConfig(*levelPath); err != nil {
			panic(err)
		}
	}
	cfg.Logging.Debug = cfg.Logging.Debug || *debug
	log := cfg.Logging.NewLogger()

	if err := glfw.Init(); err != nil {
		panic(err)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(int(cfg.Illumination.Width), int(cfg.Illumination.Height), "Lumen", nil, nil)
	if err != nil {
		panic(err)
	}
	defer window.Destroy()

	application := app.NewApp(window, log.WithPrefix("app"))
	application.FontPath = *font
	application.ShowStats = *stats
	if err := application.Init(); err != nil {
		panic(err)
	}
	defer application.Release()

	// The surface may be larger than the requested window on high density displays.
	w, h := window.GetFramebufferSize()
	cfg.Illumination.Width, cfg.Illumination.Height = uint32(w), uint32(h)
	level, err := lumen.NewLevel(application.GPU, cfg, log)
	if err != nil {
		panic(err)
	}
	defer level.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	err = level.Bake(ctx)
	cancel()
	if err != nil {
		panic(err)
	}

	application.Renderer = level
	application.Debug = cfg.Debug
	application.Debug.EditorMode = application.Debug.EditorMode || *debug
	if *telemetry != "" {
		application.ServeTelemetry(*telemetry)
	}

	window.SetFramebufferSizeCallback(func(w *glfw.Window, width, height int) {
		application.Resize(width, height)
	})

	var mouseCaptured bool
	var lastX, lastY float64
	window.SetCursorPosCallback(func(w *glfw.Window, xpos, ypos float64) {
		if mouseCaptured {
			level.Camera.Rotate(float32(xpos-lastX), float32(ypos-lastY))
		}
		lastX, lastY = xpos, ypos
	})

	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if action != glfw.Press && action != glfw.Repeat {
			return
		}
		d := &application.Debug
		switch key {
		case glfw.KeyEscape:
			w.SetShouldClose(true)
		case glfw.KeyTab:
			mouseCaptured = !mouseCaptured
			if mouseCaptured {
				w.SetInputMode(glfw.CursorMode, glfw.CursorDisabled)
			} else {
				w.SetInputMode(glfw.CursorMode, glfw.CursorNormal)
			}
		case glfw.KeyF1:
			d.EditorMode = !d.EditorMode
		case glfw.KeyF2:
			d.Wireframe = !d.Wireframe
		case glfw.KeyF3:
			d.ShowVoxelCascades = !d.ShowVoxelCascades
		case glfw.KeyF4:
			d.ShowProbes = !d.ShowProbes
		case glfw.KeyF5:
			d.ShowCascadeSplits = !d.ShowCascadeSplits
		case glfw.KeyF6:
			d.AOOnly = !d.AOOnly
		case glfw.KeyF7:
			d.DisableGI = !d.DisableGI
		case glfw.KeyF8:
			d.DisableProbes = !d.DisableProbes
		case glfw.KeyF9:
			application.ShowStats = !application.ShowStats
		case glfw.KeyUp:
			level.RotateLight(-5, 0)
		case glfw.KeyDown:
			level.RotateLight(5, 0)
		case glfw.KeyLeft:
			level.RotateLight(0, 5)
		case glfw.KeyRight:
			level.RotateLight(0, -5)
		case glfw.KeyR:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			if err := level.Rebake(ctx); err != nil {
				log.Errorf("rebake: %v", err)
			}
			cancel()
		}
	})

	last := glfw.GetTime()
	for !window.ShouldClose() {
		glfw.PollEvents()
		now := glfw.GetTime()
		dt := float32(now - last)
		last = now
		moveCamera(window, level, dt)

		application.Update()
		application.Render()
	}
}

func moveCamera(w *glfw.Window, level *lumen.Level, dt float32) {
	axis := func(pos, neg glfw.Key) float32 {
		v := float32(0)
		if w.GetKey(pos) == glfw.Press {
			v++
		}
		if w.GetKey(neg) == glfw.Press {
			v--
		}
		return v
	}
	forward := axis(glfw.KeyW, glfw.KeyS)
	right := axis(glfw.KeyD, glfw.KeyA)
	up := axis(glfw.KeyE, glfw.KeyQ)
	if forward != 0 || right != 0 || up != 0 {
		level.Camera.Move(forward, right, up, dt)
	}
}
