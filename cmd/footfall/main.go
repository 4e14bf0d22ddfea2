// Command footfall counts people crossing a region of a camera view from the
// per-frame output of an external tracker, and keeps a CSV log of every
// enter and exit for the dashboard.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/banshee-data/footfall.report/internal/api"
	"github.com/banshee-data/footfall.report/internal/config"
	"github.com/banshee-data/footfall.report/internal/counting"
	"github.com/banshee-data/footfall.report/internal/db"
	"github.com/banshee-data/footfall.report/internal/eventlog"
	"github.com/banshee-data/footfall.report/internal/fsutil"
	"github.com/banshee-data/footfall.report/internal/monitoring"
	"github.com/banshee-data/footfall.report/internal/pipeline"
	"github.com/banshee-data/footfall.report/internal/timeutil"
	"github.com/banshee-data/footfall.report/internal/trackfeed"
	"github.com/banshee-data/footfall.report/internal/version"
)

// cliFlags are the command-line options. Flags that are set on the command
// line override the config file.
type cliFlags struct {
	configPath *string
	input      *string
	output     *string
	showVer    *bool

	url           *string
	feedFPS       *float64
	confidence    *float64
	rectX         *int
	rectY         *int
	rectW         *int
	rectH         *int
	tiltAngle     *float64
	csvPath       *string
	dbPath        *string
	listen        *string
	flushInterval *time.Duration
	maxIdle       *int
	timezone      *string
}

func registerFlags(fs *flag.FlagSet) *cliFlags {
	return &cliFlags{
		configPath: fs.String("config", "", "Path to a JSON config file"),
		input:      fs.String("input", "", "Tracker output to replay (JSON lines, '-' for stdin). Empty listens on the live feed url"),
		output:     fs.String("output", "", "Record consumed frames to this JSON lines file"),
		showVer:    fs.Bool("version", false, "Print version and exit"),

		url:           fs.String("url", config.DefaultURL, "Live feed address (udp://host:port)"),
		feedFPS:       fs.Float64("feed-fps", config.DefaultFeedFPS, "Frame rate assumed when frames carry no fps"),
		confidence:    fs.Float64("confidence", config.DefaultConfidence, "Minimum detector confidence for a track to be counted"),
		rectX:         fs.Int("rect-x", 0, "Counting rectangle left edge in pixels"),
		rectY:         fs.Int("rect-y", 0, "Counting rectangle top edge in pixels"),
		rectW:         fs.Int("rect-w", 0, "Counting rectangle width in pixels"),
		rectH:         fs.Int("rect-h", 0, "Counting rectangle height in pixels"),
		tiltAngle:     fs.Float64("tilt-angle", 0, "Camera tilt in degrees for keystone correction"),
		csvPath:       fs.String("csv", config.DefaultCSVPath, "Event log CSV path"),
		dbPath:        fs.String("db", "", "SQLite event store path (empty disables)"),
		listen:        fs.String("listen", "", "HTTP status API listen address (empty disables)"),
		flushInterval: fs.Duration("flush-interval", 0, "Minimum time between event log rewrites (0 rewrites on every change)"),
		maxIdle:       fs.Int("max-idle-frames", config.DefaultMaxIdleFrames, "Forget tracks unreported for this many frames (0 disables)"),
		timezone:      fs.String("timezone", "", "IANA timezone for event log timestamps (default Local)"),
	}
}

// applyOverrides copies every flag explicitly set on fs into cfg.
func applyOverrides(cfg *config.CounterConfig, fs *flag.FlagSet, f *cliFlags) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "url":
			cfg.URL = config.PtrString(*f.url)
		case "feed-fps":
			cfg.FeedFPS = config.PtrFloat64(*f.feedFPS)
		case "confidence":
			cfg.Confidence = config.PtrFloat64(*f.confidence)
		case "rect-x":
			cfg.RectX = config.PtrInt(*f.rectX)
		case "rect-y":
			cfg.RectY = config.PtrInt(*f.rectY)
		case "rect-w":
			cfg.RectW = config.PtrInt(*f.rectW)
		case "rect-h":
			cfg.RectH = config.PtrInt(*f.rectH)
		case "tilt-angle":
			cfg.TiltAngle = config.PtrFloat64(*f.tiltAngle)
		case "csv":
			cfg.CSVPath = config.PtrString(*f.csvPath)
		case "db":
			cfg.DBPath = config.PtrString(*f.dbPath)
		case "listen":
			cfg.Listen = config.PtrString(*f.listen)
		case "flush-interval":
			cfg.FlushInterval = config.PtrString(f.flushInterval.String())
		case "max-idle-frames":
			cfg.MaxIdleFrames = config.PtrInt(*f.maxIdle)
		case "timezone":
			cfg.Timezone = config.PtrString(*f.timezone)
		}
	})
}

// loadConfig reads the optional config file and layers the command-line
// overrides on top.
func loadConfig(fs *flag.FlagSet, f *cliFlags) (*config.CounterConfig, error) {
	cfg := config.EmptyCounterConfig()
	if *f.configPath != "" {
		var err error
		if cfg, err = config.LoadCounterConfig(*f.configPath); err != nil {
			return nil, err
		}
	}
	applyOverrides(cfg, fs, f)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

type options struct {
	cfg    *config.CounterConfig
	input  string
	output string
	fs     fsutil.FileSystem
	logger *log.Logger
}

// openSource returns the frame source and a human-readable name for it.
func openSource(o options, live bool) (trackfeed.Source, string, error) {
	opts := trackfeed.Options{MinScore: o.cfg.GetConfidence(), Logger: o.logger}

	var (
		src  trackfeed.Source
		name string
	)
	if live {
		addr, err := config.ParseUDPURL(o.cfg.GetURL())
		if err != nil {
			return nil, "", err
		}
		u, err := trackfeed.ListenUDP(addr, opts)
		if err != nil {
			return nil, "", err
		}
		src, name = u, "udp://"+u.Addr().String()
	} else {
		j, err := trackfeed.OpenJSONL(o.fs, o.input, opts)
		if err != nil {
			return nil, "", err
		}
		src, name = j, o.input
	}

	if o.output != "" {
		rec, err := trackfeed.NewRecorder(src, o.fs, o.output)
		if err != nil {
			return nil, "", multierr.Append(err, src.Close())
		}
		o.logger.Printf("recording frames to %s", o.output)
		src = rec
	}
	return src, name, nil
}

// run wires the counter and blocks until the input ends or ctx is cancelled.
// Everything that can fail at start-up is checked before the frame loop.
func run(ctx context.Context, o options) (_ pipeline.Summary, err error) {
	cfg := o.cfg
	o.logger = monitoring.OrDefault(o.logger)
	if o.fs == nil {
		o.fs = fsutil.OSFileSystem{}
	}
	live := o.input == ""
	rect := cfg.Rect()

	engineCfg := counting.Config{
		Rect:          rect,
		TiltDeg:       cfg.GetTiltAngle(),
		MaxIdleFrames: cfg.GetMaxIdleFrames(),
		DefaultFPS:    cfg.GetFeedFPS(),
		Clock:         timeutil.RealClock{},
	}
	engine, err := counting.NewEngine(engineCfg)
	if err != nil {
		return pipeline.Summary{}, err
	}

	src, sourceName, err := openSource(o, live)
	if err != nil {
		return pipeline.Summary{}, fmt.Errorf("failed to open frame source: %w", err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close frame source: %w", cerr))
		}
	}()
	o.logger.Printf("reading frames from %s", sourceName)

	writer := eventlog.NewWriter(o.fs, cfg.GetCSVPath(), cfg.GetLocation())

	var (
		sink  pipeline.EventSink
		store api.EventStore
		dbRun *db.Run
	)
	if path := cfg.GetDBPath(); path != "" {
		database, derr := db.OpenDB(path)
		if derr != nil {
			return pipeline.Summary{}, derr
		}
		defer func() {
			if cerr := database.Close(); cerr != nil {
				err = multierr.Append(err, fmt.Errorf("close database: %w", cerr))
			}
		}()
		var serr error
		dbRun, serr = database.StartRun(ctx, db.RunParams{
			Source:     sourceName,
			Rect:       rect,
			TiltDeg:    cfg.GetTiltAngle(),
			Confidence: cfg.GetConfidence(),
			StartedAt:  time.Now(),
		})
		if serr != nil {
			return pipeline.Summary{}, serr
		}
		o.logger.Printf("recording events to %s as run %s", path, dbRun.ID)
		sink, store = dbRun, database
	}

	status := pipeline.NewStatus()

	if addr := cfg.GetListen(); addr != "" {
		runID := ""
		if dbRun != nil {
			runID = dbRun.ID
		}
		mux := api.NewServer(status, store, runID).ServeMux()
		if database, ok := store.(*db.DB); ok {
			if err := database.AttachAdminRoutes(mux); err != nil {
				return pipeline.Summary{}, err
			}
		}

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return pipeline.Summary{}, fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		server := &http.Server{Handler: api.LoggingMiddleware(o.logger.Printf, mux)}
		go func() {
			if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				o.logger.Printf("HTTP server error: %v", err)
			}
		}()
		o.logger.Printf("status API listening on %s", ln.Addr())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				o.logger.Printf("HTTP server shutdown error: %v", err)
				// Force close the server if graceful shutdown fails
				if err := server.Close(); err != nil {
					o.logger.Printf("HTTP server force close error: %v", err)
				}
			}
		}()
	}

	runner, err := pipeline.NewRunner(pipeline.Config{
		Source:        src,
		Engine:        engine,
		Log:           writer,
		Sink:          sink,
		Status:        status,
		FlushInterval: cfg.GetFlushInterval(),
		Logger:        o.logger,
	})
	if err != nil {
		return pipeline.Summary{}, err
	}

	sum, err := runner.Run(ctx)
	if dbRun != nil {
		if ferr := dbRun.Finish(context.Background(), engine.Stats(), time.Now()); ferr != nil {
			err = multierr.Append(err, ferr)
		}
	}
	o.logger.Printf("event log written to %s (%d rows)", writer.Path(), engine.Ledger().Rows())
	return sum, err
}

func main() {
	f := registerFlags(flag.CommandLine)
	flag.Parse()

	if *f.showVer {
		fmt.Println(version.String())
		return
	}
	log.Printf("starting %s", version.String())

	cfg, err := loadConfig(flag.CommandLine, f)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, err = run(ctx, options{
		cfg:    cfg,
		input:  *f.input,
		output: *f.output,
		fs:     fsutil.OSFileSystem{},
		logger: log.Default(),
	})
	if err != nil {
		stop()
		log.Fatalf("footfall: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
