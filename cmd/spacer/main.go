package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/cshum/vipsgen/vips"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sashko-guz/spacer/internal/classifier"
	"github.com/sashko-guz/spacer/internal/config"
	"github.com/sashko-guz/spacer/internal/images"
	"github.com/sashko-guz/spacer/internal/logger"
	"github.com/sashko-guz/spacer/internal/modelcache"
	"github.com/sashko-guz/spacer/internal/storage"
)

const usage = `usage: spacer [flags] <command> [args]

commands:
  fetch-model <id>            download a model into LOCAL_MODEL_PATH
  cp <src> <dst>              copy an object between locations
  exists <loc>                exit 0 if loc exists, 1 otherwise
  rm <loc>                    delete an object
  inspect <loc>               decode a classifier and print a summary
  thumb <src> <dst> <WxH>     store a shrunk copy of an image

locations: mem://key, s3://bucket/key, file:///path, /path, http(s)://host/path

flags:
`

type app struct {
	cfg      *config.Config
	reg      *storage.Registry
	codec    *classifier.Codec
	reencode bool
}

func main() {
	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags)

	stats := flag.Bool("stats", false, "print non-zero counters to stderr on exit")
	reencode := flag.Bool("reencode", false, "cp: write classifiers in the current layout")
	compress := flag.Bool("compress", false, "cp: zstd-compress re-encoded classifiers")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if path, err := config.LoadDotEnv(); err != nil {
		logger.Warnf("[Spacer] Ignoring %s: %v", path, err)
	}
	logger.InitFromEnv()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fileCfg, err := storage.LoadFileConfig(cfg.StorageConfigPath)
	if err != nil {
		logger.Fatalf("[Spacer] Failed to load storage config: %v", err)
	}

	reg, err := storage.Connect(ctx, cfg.StorageOptions(fileCfg))
	if err != nil {
		logger.Fatalf("[Spacer] Failed to initialize storage: %v", err)
	}

	a := &app{cfg: cfg, reg: reg, codec: &classifier.Codec{Compress: *compress}, reencode: *reencode}
	code := a.run(ctx, flag.Arg(0), flag.Args()[1:])

	reg.Close()
	if *stats {
		printStats()
	}
	os.Exit(code)
}

func (a *app) run(ctx context.Context, cmd string, args []string) int {
	var err error
	switch cmd {
	case "fetch-model":
		err = a.fetchModel(ctx, args)
	case "cp":
		err = a.copy(ctx, args)
	case "exists":
		var ok bool
		if ok, err = a.exists(ctx, args); err == nil && !ok {
			return 1
		}
	case "rm":
		err = a.remove(ctx, args)
	case "inspect":
		err = a.inspect(ctx, args)
	case "thumb":
		err = a.thumb(ctx, args)
	default:
		flag.Usage()
		return 2
	}

	if err != nil {
		logger.Errorf("[Spacer] %s: %v", cmd, err)
		if errors.Is(err, storage.ErrInput) || errors.Is(err, storage.ErrConfiguration) {
			return 2
		}
		return 1
	}
	return 0
}

func wantArgs(args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("expected %d argument(s), got %d: %w", n, len(args), storage.ErrInput)
	}
	return nil
}

func (a *app) fetchModel(ctx context.Context, args []string) error {
	if err := wantArgs(args, 1); err != nil {
		return err
	}

	var models *modelcache.Cache
	if a.cfg.HasS3ModelAccess {
		models = modelcache.FromRegistry(a.reg, a.cfg.ModelsBucket, a.cfg.LocalModelPath)
	} else {
		models = modelcache.New(a.cfg.LocalModelPath, nil)
	}

	path, cached, err := models.EnsureLocal(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s\tcached=%v\n", path, cached)
	return nil
}

func (a *app) resolve(s string) (storage.Backend, storage.Location, error) {
	loc, err := storage.ParseLocation(s)
	if err != nil {
		return nil, loc, err
	}
	backend, err := a.reg.ResolveLocation(loc)
	return backend, loc, err
}

func (a *app) copy(ctx context.Context, args []string) error {
	if err := wantArgs(args, 2); err != nil {
		return err
	}
	src, srcLoc, err := a.resolve(args[0])
	if err != nil {
		return err
	}
	dst, dstLoc, err := a.resolve(args[1])
	if err != nil {
		return err
	}

	data, err := src.Load(ctx, srcLoc.Key)
	if err != nil {
		return err
	}

	if a.reencode {
		clf, err := a.codec.Decode(bytes.NewReader(data))
		if err != nil {
			return err
		}
		if err := classifier.Store(ctx, a.reg, a.codec, dstLoc, clf); err != nil {
			return err
		}
		logger.Infof("[Spacer] Re-encoded %s to %s", srcLoc, dstLoc)
		return nil
	}

	if err := dst.Store(ctx, dstLoc.Key, data); err != nil {
		return err
	}
	logger.Infof("[Spacer] Copied %s to %s (%d bytes)", srcLoc, dstLoc, len(data))
	return nil
}

func (a *app) exists(ctx context.Context, args []string) (bool, error) {
	if err := wantArgs(args, 1); err != nil {
		return false, err
	}
	backend, loc, err := a.resolve(args[0])
	if err != nil {
		return false, err
	}
	ok := backend.Exists(ctx, loc.Key)
	fmt.Println(ok)
	return ok, nil
}

func (a *app) remove(ctx context.Context, args []string) error {
	if err := wantArgs(args, 1); err != nil {
		return err
	}
	backend, loc, err := a.resolve(args[0])
	if err != nil {
		return err
	}
	return backend.Delete(ctx, loc.Key)
}

func (a *app) inspect(ctx context.Context, args []string) error {
	if err := wantArgs(args, 1); err != nil {
		return err
	}
	loc, err := storage.ParseLocation(args[0])
	if err != nil {
		return err
	}

	classifiers, err := classifier.NewCache(a.reg, a.codec)
	if err != nil {
		return err
	}
	clf, err := classifiers.GetOrLoad(ctx, loc)
	if err != nil {
		return err
	}

	version := clf.LibraryVersion
	if version == "" {
		version = "pre-0.18"
	}
	fmt.Printf("location:  %s\n", loc)
	fmt.Printf("version:   %s\n", version)
	fmt.Printf("method:    %s\n", clf.Method)
	fmt.Printf("cv:        %v\n", clf.CV)
	fmt.Printf("classes:   %v\n", clf.Classes)
	fmt.Printf("folds:     %d\n", len(clf.CalibratedClassifiers))
	for i, cc := range clf.CalibratedClassifiers {
		features := 0
		loss := ""
		if cc.Estimator != nil {
			loss = cc.Estimator.Loss
			if len(cc.Estimator.Coef) > 0 {
				features = len(cc.Estimator.Coef[0])
			}
		}
		fmt.Printf("  fold %d: loss=%s features=%d classes=%v calibrators=%d\n",
			i, loss, features, cc.Classes, len(cc.Calibrators))
	}
	return nil
}

func (a *app) thumb(ctx context.Context, args []string) error {
	if err := wantArgs(args, 3); err != nil {
		return err
	}
	width, height, err := parseSize(args[2])
	if err != nil {
		return err
	}
	src, srcLoc, err := a.resolve(args[0])
	if err != nil {
		return err
	}
	dstLoc, err := storage.ParseLocation(args[1])
	if err != nil {
		return err
	}

	data, err := src.Load(ctx, srcLoc.Key)
	if err != nil {
		return err
	}

	startVips(a.cfg.VipsConcurrency)
	defer vips.Shutdown()

	img, err := images.Thumbnail(data, width, height)
	if err != nil {
		return err
	}
	defer img.Close()

	format := images.FormatFromPath(dstLoc.Key)
	if err := images.Store(ctx, a.reg, dstLoc, img, &images.EncodeOptions{Format: format}); err != nil {
		return err
	}
	logger.Infof("[Spacer] Wrote %dx%d %s to %s", img.Width(), img.Height(), format, dstLoc)
	return nil
}

func parseSize(s string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	width, errW := strconv.Atoi(w)
	height, errH := strconv.Atoi(h)
	if !ok || errW != nil || errH != nil || width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("size %q: expected WxH: %w", s, storage.ErrInput)
	}
	return width, height, nil
}

func startVips(concurrency int) {
	var vipsCfg *vips.Config
	if concurrency > 0 {
		vipsCfg = &vips.Config{ConcurrencyLevel: concurrency}
		logger.Debugf("[Spacer] libvips concurrency set to %d", concurrency)
	}
	vips.Startup(vipsCfg)
}

// printStats writes every counter that moved during the run.
func printStats() {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		logger.Warnf("[Spacer] Failed to gather metrics: %v", err)
		return
	}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "spacer_") {
			continue
		}
		for _, m := range mf.GetMetric() {
			value := m.GetCounter().GetValue()
			if value == 0 {
				continue
			}
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			fmt.Fprintf(os.Stderr, "%s{%s} %g\n", mf.GetName(), strings.Join(labels, ","), value)
		}
	}
}
