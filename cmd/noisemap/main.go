package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/noisemap/noisemap/internal/config"
	"github.com/noisemap/noisemap/internal/data"
	"github.com/noisemap/noisemap/internal/export"
	"github.com/noisemap/noisemap/internal/grid"
	"github.com/noisemap/noisemap/internal/persist"
	"github.com/noisemap/noisemap/internal/pipeline"
	"github.com/noisemap/noisemap/internal/scripting"
	"github.com/noisemap/noisemap/internal/ws"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(scene string, digest string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m              noisemap  v0.1.0             \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m     road & industry noise propagation     \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mscene:\033[0m %s \033[90m(%s)\033[0m\n\n", scene, digest[:12])
}

func printSection(title string) {
	lineLen := max(46-len(title)-1, 3)
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := max(42-len(label)-len(numStr), 3)
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Run ───────────────────────────────────────────────────────────

func run() error {
	cfgPath := flag.String("config", "", "config file (default $NOISEMAP_CONFIG or built-in defaults)")
	scenePath := flag.String("scene", "", "scene file, overrides [scene] path")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *scenePath != "" {
		cfg.Scene.Path = *scenePath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	// 3. Evaluate emissions and load the scene
	engine, err := scripting.NewEngine(cfg.Scene.ScriptsDir, log)
	if err != nil {
		return fmt.Errorf("scripting: %w", err)
	}
	scene, err := data.LoadScene(cfg.Scene.Path, engine, log)
	engine.Close()
	if err != nil {
		return fmt.Errorf("load scene: %w", err)
	}

	printBanner(cfg.Scene.Path, scene.DigestHex())
	printSection("scene")
	printStat("bands", len(scene.Bands))
	printStat("obstacles", len(scene.Obstacles))
	printStat("sources", len(scene.Sources))
	printStat("receivers", len(scene.Receivers))
	printStat("topography points", len(scene.Topography))
	fmt.Println()

	// 4. Lay out the grid and stitch cell borders
	printSection("grid")
	sched, err := grid.NewScheduler(scene.Input(), cfg.GridOptions(), log)
	if err != nil {
		return fmt.Errorf("grid: %w", err)
	}
	printStat("cells", len(sched.Cells()))
	printStat("merged obstacles", len(sched.Obstacles()))
	if err := sched.Stitch(); err != nil {
		return fmt.Errorf("stitch: %w", err)
	}
	if sched.PointMode() {
		printOK("point receivers assigned")
	} else {
		printOK("cell borders stitched")
	}
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 5. Result sinks
	printSection("output")
	var sinks pipeline.MultiSink
	if cfg.Output.GeoJSON != "" {
		sinks = append(sinks, export.NewGeoJSONSink(cfg.Output.GeoJSON, log))
		printOK("geojson " + cfg.Output.GeoJSON)
	}
	if cfg.Output.PNG != "" {
		sinks = append(sinks, export.NewPNGSink(cfg.Output.PNG, scene.Envelope, cfg.Output.PNGWidth, cfg.Output.PNGHeight, cfg.Output.LevelStepDB, log))
		printOK("png " + cfg.Output.PNG)
	}

	var runs *persist.RunRepo
	var runID int64
	if cfg.Output.Database {
		dbCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		db, err := persist.NewDB(dbCtx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		if err := persist.RunMigrations(dbCtx, db.Pool, log); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		runs = persist.NewRunRepo(db)
		runID, err = runs.Start(dbCtx, scene.DigestHex(), len(sched.Cells()))
		if err != nil {
			return err
		}
		sinks = append(sinks, persist.NewLevelSink(db, runID, cfg.Database.CopyBatch, log))
		printOK(fmt.Sprintf("postgresql run %d", runID))
	}
	if len(sinks) == 0 {
		log.Warn("no output configured, results are discarded")
	}

	var listener pipeline.ProgressListener
	if addr := cfg.Progress.WSAddress; addr != "" {
		hub := ws.NewHub(log)
		defer hub.Close()
		listener = hub
		go func() {
			if err := ws.Serve(ctx, addr, hub, log); err != nil {
				log.Error("progress endpoint stopped", zap.Error(err))
			}
		}()
		printReady("progress on ws://" + addr + "/progress")
	}
	fmt.Println()

	// 6. Compute
	printSection("compute")
	printReady(fmt.Sprintf("%d workers", cfg.Pipeline.Workers))
	runner := pipeline.NewRunner(cfg.PipelineOptions(), sinks, listener, log)
	sum, runErr := runner.Run(ctx, pipeline.CellJobs(sched, log))
	closeErr := sinks.Close()

	if runs != nil {
		finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := runs.Finish(finishCtx, runID, int(sum.CellsDone), sum.Cancelled); err != nil {
			log.Error("record run outcome", zap.Error(err))
		}
	}
	if runErr != nil {
		return runErr
	}
	if closeErr != nil {
		return fmt.Errorf("close outputs: %w", closeErr)
	}

	if sum.Cancelled {
		printOK(fmt.Sprintf("cancelled after %d/%d cells", sum.CellsDone, sum.CellsTotal))
	} else {
		printOK(fmt.Sprintf("%d cells in %s", sum.CellsDone, sum.Elapsed.Round(time.Millisecond)))
	}
	printStat("receivers", int(sum.Stats.Receivers))
	printStat("obstruction tests", int(sum.Stats.ObstructionTests))
	printStat("reflection paths", int(sum.Stats.ReflectionPaths))
	printStat("diffraction paths", int(sum.Stats.DiffractionPaths))
	fmt.Println()
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
