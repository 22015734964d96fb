// Command-line interface to the SOG bundle writer.
// Converts 3D Gaussian Splatting PLY files into SOG bundles or standalone HTML viewers,
// or serves conversions over HTTP.

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime/pprof"
	"strings"
	"syscall"

	"github.com/Core11-ZoltanK/LichtFeld-Studio/cluster"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/lfs"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/message"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/server"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/sog"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/splat"
	"github.com/Core11-ZoltanK/LichtFeld-Studio/viewer"
)

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Run in verbose mode if true.
	runVerbose = flag.Bool("verbose", false, "")

	// Path to TOML configuration.
	configFile = flag.String("config", "", "")

	// Overrides of [export] settings.
	iterations = flag.Int("iterations", 0, "")
	workers    = flag.Int("workers", 0, "")
	codec      = flag.String("codec", "", "")

	// Path to an arrow pixel table written alongside the bundle.
	arrowFile = flag.String("arrow", "", "")

	// Address for http communication.
	httpAddress = flag.String("http", "", "")

	// Profile CPU usage using standard gotest system.
	cpuprofile = flag.String("cpuprofile", "", "")
)

const helpMessage = `
sogs converts 3D Gaussian Splatting scenes into SOG bundles

Usage: sogs [options] <command>

      -config     =string   TOML configuration file.
      -iterations =number   Clustering iterations (default 10).
      -workers    =number   Worker goroutines per stage (default all CPUs).
      -codec      =string   Raster codec: webp (default) or png.
      -arrow      =string   Also write an arrow pixel table of the bundle to this file.
      -http       =string   Address for HTTP communication when serving.
      -cpuprofile =string   Write CPU profile to this file.
      -verbose    (flag)    Run in verbose mode.
  -h, -help       (flag)    Show help message

Commands:

	write   <input.ply> <output>       output is a .sog/.zip file, a directory, or a bucket URL
	html    <input.ply> <output.html>  standalone viewer page with the bundle embedded
	serve                              HTTP export service
	version
`

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = func() { fmt.Print(helpMessage) }
	flag.Parse()

	if flag.NArg() >= 1 && strings.ToLower(flag.Arg(0)) == "help" {
		*showHelp = true
	}
	if *showHelp || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(0)
	}
	if *runVerbose {
		lfs.Verbose = true
		lfs.SetLogMode(lfs.DebugMode)
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	// Capture ctrl+c and other interrupts; exports stop at the next stage boundary.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := DoCommand(ctx, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		stop()
		if *cpuprofile != "" {
			pprof.StopCPUProfile()
		}
		os.Exit(1)
	}
}

// loadConfig reads the TOML configuration and applies command-line overrides.
func loadConfig() (*server.Config, error) {
	cfg, err := server.LoadConfig(*configFile)
	if err != nil {
		return nil, err
	}
	if *iterations > 0 {
		cfg.Export.Iterations = *iterations
	}
	if *workers > 0 {
		cfg.Export.Workers = *workers
	}
	if *codec != "" {
		cfg.Export.Codec = *codec
	}
	if *httpAddress != "" {
		cfg.Server.HTTPAddress = *httpAddress
	}
	cfg.Logging.SetLogger()
	return cfg, nil
}

// DoCommand serves as a switchboard for commands.
func DoCommand(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("Blank command!")
	}
	if args[0] == "version" {
		fmt.Println(lfs.VersionString())
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer lfs.Shutdown()

	clusterer, store, err := cfg.Clusterer()
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}
	hostID, _ := os.Hostname()
	events, err := cfg.Kafka.NewPublisher(hostID)
	if err != nil {
		return fmt.Errorf("can't connect to kafka: %v", err)
	}
	defer events.Close()

	switch args[0] {
	case "write":
		if len(args) != 3 {
			return fmt.Errorf("write requires an input PLY and an output target")
		}
		return DoWrite(ctx, cfg, clusterer, events, args[1], args[2])
	case "html":
		if len(args) != 3 {
			return fmt.Errorf("html requires an input PLY and an output HTML file")
		}
		return DoHTML(ctx, cfg, clusterer, events, args[1], args[2])
	case "serve":
		s, err := server.New(cfg, clusterer, events)
		if err != nil {
			return err
		}
		return s.ListenAndServe(ctx)
	default:
		return fmt.Errorf("unknown command %q; try 'sogs help'", args[0])
	}
}

func loadScene(filename string) (*splat.Set, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	timedLog := lfs.NewTimeLog()
	set, err := splat.ReadPLY(f)
	if err != nil {
		return nil, fmt.Errorf("can't read %s: %v", filename, err)
	}
	timedLog.Infof("Loaded %s (%s, %s in memory)", filename, set, lfs.Footprint(set))
	return set, nil
}

func progress(fraction float32, stage string) bool {
	lfs.Infof("[%3.0f%%] %s\n", fraction*100, stage)
	return true
}

// DoWrite exports a PLY scene to a bundle target.
func DoWrite(ctx context.Context, cfg *server.Config, clusterer cluster.Clusterer, events *message.Publisher, input, output string) error {
	set, err := loadScene(input)
	if err != nil {
		return err
	}
	opts, err := cfg.ExportOptions(clusterer)
	if err != nil {
		return err
	}
	opts.OutputPath = output
	opts.Progress = progress
	opts.KeepRasters = *arrowFile != ""

	res, err := sog.Write(ctx, set, opts)
	if perr := events.Publish(message.NewActivity(res, input, output, err)); perr != nil {
		lfs.Errorf("unable to publish export activity: %v\n", perr)
	}
	if err != nil {
		return err
	}
	if res.Warnings() > 0 {
		lfs.Warningf("Export %s recovered %d degenerate rotations and %d flat axes\n",
			res.ID, res.DegenerateRotations, len(res.DegenerateAxes))
	}
	lfs.Infof("Wrote %s: %d splats, %dx%d rasters, %s in %s\n",
		output, res.Count, res.Width, res.Height, lfs.Bytes(res.Bytes), res.Elapsed)

	if *arrowFile == "" {
		return nil
	}
	f, err := os.Create(*arrowFile)
	if err != nil {
		return err
	}
	if err := sog.WriteArrowTable(f, res); err != nil {
		f.Close()
		return fmt.Errorf("can't write pixel table %s: %v", *arrowFile, err)
	}
	lfs.Infof("Wrote pixel table %s\n", *arrowFile)
	return f.Close()
}

// DoHTML exports a PLY scene as a standalone viewer page.
func DoHTML(ctx context.Context, cfg *server.Config, clusterer cluster.Clusterer, events *message.Publisher, input, output string) error {
	set, err := loadScene(input)
	if err != nil {
		return err
	}
	res, err := viewer.ExportHTML(ctx, set, viewer.Options{
		OutputPath:  output,
		Iterations:  cfg.Export.Iterations,
		Workers:     cfg.Export.Workers,
		Clusterer:   clusterer,
		Progress:    progress,
		TemplateDir: cfg.Viewer.TemplateDir,
	})
	if perr := events.Publish(message.NewActivity(res, input, output, err)); perr != nil {
		lfs.Errorf("unable to publish export activity: %v\n", perr)
	}
	return err
}
