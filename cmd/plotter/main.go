// Command plotter builds a proof-of-space plot file.
//
// Usage:
//
//	plotter -k 32 -i <64 hex chars> -t /fast/tmp -d /plots -f plot.dat
//
// Flags override values from an optional YAML config file (-config) and
// DISKPLOT_* environment variables.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/tamirms/diskplot"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	k := flag.Uint("k", 0, "plot size exponent (18-50)")
	idHex := flag.String("i", "", "plot id, 64 hex characters")
	memoHex := flag.String("m", "", "memo, hex encoded")
	tmpDir := flag.String("t", "", "temp directory 1")
	tmp2Dir := flag.String("2", "", "temp directory 2 (defaults to temp directory 1)")
	finalDir := flag.String("d", "", "final directory")
	filename := flag.String("f", "", "plot file name")
	memoryMiB := flag.Uint64("b", 0, "sort memory budget in MiB")
	buckets := flag.Uint("u", 0, "number of sort buckets (power of two; 0 = auto)")
	stripe := flag.Uint64("s", 0, "stripe size in entries")
	threads := flag.Int("r", 0, "number of phase-1 threads")
	noBitfield := flag.Bool("e", false, "use the legacy non-bitfield back-propagation (unsupported)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	v := viper.New()
	v.SetDefault("k", 32)
	v.SetDefault("tmp_dir", ".")
	v.SetDefault("tmp2_dir", "")
	v.SetDefault("final_dir", ".")
	v.SetDefault("filename", "plot.dat")
	v.SetDefault("memory_mib", 4608)
	v.SetDefault("buckets", 0)
	v.SetDefault("stripe_size", 65536)
	v.SetDefault("threads", 2)
	v.SetEnvPrefix("DISKPLOT")
	v.AutomaticEnv()
	if *configPath != "" {
		v.SetConfigFile(*configPath)
		if err := v.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to read config: %v\n", err)
			os.Exit(1)
		}
	}

	// Flags win over config file and environment.
	if *k != 0 {
		v.Set("k", *k)
	}
	if *tmpDir != "" {
		v.Set("tmp_dir", *tmpDir)
	}
	if *tmp2Dir != "" {
		v.Set("tmp2_dir", *tmp2Dir)
	}
	if *finalDir != "" {
		v.Set("final_dir", *finalDir)
	}
	if *filename != "" {
		v.Set("filename", *filename)
	}
	if *memoryMiB != 0 {
		v.Set("memory_mib", *memoryMiB)
	}
	if *buckets != 0 {
		v.Set("buckets", *buckets)
	}
	if *stripe != 0 {
		v.Set("stripe_size", *stripe)
	}
	if *threads != 0 {
		v.Set("threads", *threads)
	}
	if v.GetString("tmp2_dir") == "" {
		v.Set("tmp2_dir", v.GetString("tmp_dir"))
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	id, err := hex.DecodeString(*idHex)
	if err != nil || len(id) != 32 {
		fmt.Fprintln(os.Stderr, "plot id must be 64 hex characters")
		os.Exit(1)
	}
	var memo []byte
	if *memoHex != "" {
		memo, err = hex.DecodeString(*memoHex)
		if err != nil {
			fmt.Fprintln(os.Stderr, "memo must be hex encoded")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []diskplot.Option{
		diskplot.WithMemoryMiB(v.GetUint64("memory_mib")),
		diskplot.WithBuckets(uint32(v.GetUint("buckets"))),
		diskplot.WithStripeSize(v.GetUint64("stripe_size")),
		diskplot.WithThreads(v.GetInt("threads")),
		diskplot.WithLogger(log),
		diskplot.WithProgress(func(phase, n, maxN int) {
			log.Info().Int("phase", phase).Int("n", n).Int("max", maxN).Msg("progress")
		}),
	}
	if *noBitfield {
		opts = append(opts, diskplot.WithNoBitfield())
	}

	err = diskplot.CreatePlot(ctx, diskplot.Params{
		K:        uint8(v.GetUint("k")),
		ID:       id,
		Memo:     memo,
		TmpDir:   v.GetString("tmp_dir"),
		Tmp2Dir:  v.GetString("tmp2_dir"),
		FinalDir: v.GetString("final_dir"),
		Filename: v.GetString("filename"),
	}, opts...)
	if err != nil {
		log.Error().Err(err).Msg("plot failed")
		os.Exit(1)
	}
}
