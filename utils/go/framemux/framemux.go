// Package framemux is a CLI utility that packs image sequences into
// Matroska files and unpacks them again.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"

	"mkvseq/pkg/codec"
	"mkvseq/pkg/codec/vp9"
	"mkvseq/pkg/config"
	"mkvseq/pkg/ffmpeg"
	"mkvseq/pkg/frame"
	"mkvseq/pkg/log"
	"mkvseq/pkg/metrics"
	"mkvseq/pkg/mkv"
)

const usage = `pack image sequences into matroska files
usage: framemux [-config framemux.yaml] [-env .env] <command> <args>

commands:
  pack <dir> <out.mkv>   pack PNG frames and fields.yaml
  unpack <in.mkv> <dir>  unpack into PNG frames and fields.yaml
  info <in.mkv>          print container summary
  logs                   print saved logs, requires logDB`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		stdlog.Fatal(err)
	}
}

// ErrUsage invalid arguments.
var ErrUsage = errors.New("invalid arguments")

func run(args []string, stdout io.Writer) error {
	flags := flag.NewFlagSet("framemux", flag.ContinueOnError)
	configFlag := flags.String("config", "", "path to framemux.yaml")
	envFlag := flags.String("env", ".env", "path to .env file")
	levelFlag := flags.String("level", "", "logs: only show this level")
	if err := flags.Parse(args); err != nil {
		return err
	}
	args = flags.Args()
	if len(args) == 0 {
		fmt.Fprintln(stdout, usage)
		return nil
	}

	if err := config.LoadDotEnv(*envFlag); err != nil {
		return err
	}
	cfg, err := config.Load(*configFlag)
	if err != nil {
		return err
	}

	cmd, cmdArgs := args[0], args[1:]
	if cmd == "logs" {
		return printLogs(cfg, *levelFlag, stdout)
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.stop()

	switch {
	case cmd == "pack" && len(cmdArgs) == 2:
		err = a.pack(cmdArgs[0], cmdArgs[1])
	case cmd == "unpack" && len(cmdArgs) == 2:
		err = a.unpack(cmdArgs[0], cmdArgs[1])
	case cmd == "info" && len(cmdArgs) == 1:
		err = a.info(cmdArgs[0], stdout)
	default:
		fmt.Fprintln(stdout, usage)
		return fmt.Errorf("%w: %v", ErrUsage, strings.Join(args, " "))
	}
	if err != nil {
		a.logger.Error().Src("app").Msgf("%v: %v", cmd, err)
		return err
	}
	return a.writeMetrics()
}

type app struct {
	cfg     *config.Config
	logger  *log.Logger
	metrics *metrics.Metrics
	codec   codec.Factory

	cancel func()
	wg     *sync.WaitGroup
}

func newApp(cfg *config.Config) (*app, error) {
	factory, err := newCodec(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}

	logger := log.NewLogger(wg)
	logger.SetLevel(cfg.Level())
	logger.Start(ctx)
	go logger.LogToStdout(ctx)

	if cfg.LogDB != "" {
		logDB := log.NewDB(cfg.LogDB, wg)
		if err := logDB.Init(ctx); err != nil {
			cancel()
			wg.Wait()
			return nil, fmt.Errorf("init log db: %w", err)
		}
		go logDB.SaveLogs(ctx, logger)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		codec:   factory,
		cancel:  cancel,
		wg:      wg,
	}, nil
}

// Give subscribers time to drain the feed before stopping.
const logDrainTime = 50 * time.Millisecond

func (a *app) stop() {
	time.Sleep(logDrainTime)
	a.cancel()
	a.wg.Wait()
}

func newCodec(cfg *config.Config) (codec.Factory, error) {
	if cfg.Codec == vp9.CodecID {
		return vp9.NewFactory(ffmpeg.New(cfg.FFmpegBin)), nil
	}
	return codec.Lookup(cfg.Codec)
}

func (a *app) options() []mkv.Option {
	return []mkv.Option{
		mkv.WithCodec(a.codec),
		mkv.WithTimecodeScale(a.cfg.TimecodeScale),
		mkv.WithFrameRate(a.cfg.FrameRate),
		mkv.WithCompression(a.cfg.Compress),
		mkv.WithAppName("framemux"),
		mkv.WithLogger(a.logger),
		mkv.WithMetrics(a.metrics),
	}
}

func (a *app) pack(dir, out string) error {
	seq, err := loadFrames(dir, a.cfg.FrameRate)
	if err != nil {
		return err
	}
	err = mkv.WithWriter(out, func(w *mkv.Writer) error {
		return w.WriteAll(seq)
	}, a.options()...)
	if err != nil {
		return err
	}
	a.logger.Info().Src("app").File(out).Msgf("packed %d frames", seq.Len())
	return nil
}

func (a *app) unpack(in, dir string) error {
	seq := frame.NewList(0)
	if err := mkv.ReadFile(in, seq, a.options()...); err != nil {
		return err
	}
	if err := saveFrames(dir, seq); err != nil {
		return err
	}
	a.logger.Info().Src("app").File(in).Msgf("unpacked %d frames", seq.Len())
	return nil
}

func (a *app) info(in string, stdout io.Writer) error {
	r, err := mkv.Open(in, a.options()...)
	if err != nil {
		return err
	}
	defer r.Close()

	info := r.Info()
	fmt.Fprintf(stdout, "doc type:   %v\n", info.DocType)
	fmt.Fprintf(stdout, "codec:      %v\n", info.CodecID)
	fmt.Fprintf(stdout, "size:       %vx%v\n", info.Width, info.Height)
	fmt.Fprintf(stdout, "greyscale:  %v\n", info.Greyscale)
	fmt.Fprintf(stdout, "frame rate: %v\n", info.FrameRate)
	fmt.Fprintf(stdout, "duration:   %v\n", info.Duration)
	fmt.Fprintf(stdout, "clusters:   %v\n", info.Clusters)
	fmt.Fprintf(stdout, "cues:       %v\n", info.Cues)
	for _, t := range info.MetadataTracks {
		fmt.Fprintf(stdout, "track %d:    %v\n", t.Number, t.Name)
	}
	return nil
}

func (a *app) writeMetrics() error {
	if a.cfg.MetricsFile == "" {
		return nil
	}
	return a.metrics.WriteToTextfile(a.cfg.MetricsFile)
}

// ErrNoLogDB logDB is not configured.
var ErrNoLogDB = errors.New("logDB is not configured")

func printLogs(cfg *config.Config, level string, stdout io.Writer) error {
	if cfg.LogDB == "" {
		return ErrNoLogDB
	}

	var q log.Query
	if level != "" {
		l, err := log.ParseLevel(level)
		if err != nil {
			return err
		}
		q.Levels = []log.Level{l}
	}

	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	defer wg.Wait()
	defer cancel()

	logDB := log.NewDB(cfg.LogDB, wg)
	if err := logDB.Init(ctx); err != nil {
		return fmt.Errorf("init log db: %w", err)
	}
	entries, err := logDB.Query(q)
	if err != nil {
		return fmt.Errorf("query logs: %w", err)
	}
	for _, e := range entries {
		t := time.UnixMicro(int64(e.Time)).Format(time.RFC3339)
		fmt.Fprintf(stdout, "%v %v %v %v: %v\n", t, e.Level, e.Src, e.File, e.Msg)
	}
	return nil
}
