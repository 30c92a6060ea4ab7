package diskplot

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	diskerrors "github.com/tamirms/diskplot/errors"
	"github.com/tamirms/diskplot/internal/bits"
	"github.com/tamirms/diskplot/internal/disk"
	"github.com/tamirms/diskplot/internal/pos"
	"github.com/tamirms/diskplot/internal/sort"
)

// Params identifies one plot build.
type Params struct {
	// K is the plot size exponent; the final file holds about 2^K proofs.
	K uint8
	// ID is the 32-byte plot id keying F1.
	ID []byte
	// Memo is opaque caller data stored in the header.
	Memo []byte
	// TmpDir holds the seven table files and all sort bucket files.
	TmpDir string
	// Tmp2Dir holds the final file while it is being written.
	Tmp2Dir string
	// FinalDir receives the finished plot.
	FinalDir string
	// Filename is the plot file name inside FinalDir.
	Filename string
}

// plotRun is the shared state of one build's four phases.
type plotRun struct {
	cfg      *buildConfig
	k        uint8
	id       []byte
	tmpDir   string
	baseName string

	// smMemory is the per-manager sort budget: half the total, since
	// phase 3 drains two managers at once.
	smMemory   uint64
	numBuckets uint32
	logBuckets uint32

	tableFiles [8]*disk.FileDisk

	writer   *plotWriter
	pointers [numTablePointers]uint64
}

// renameSleep is replaced in tests.
var renameSleep = time.Sleep

const renameRetryInterval = 5 * time.Minute

// CreatePlot builds a complete plot file. Temporary files several times the
// final size are created under p.TmpDir and p.Tmp2Dir and removed before
// returning. The context cancels the build between stripes; transient I/O
// errors never abort it.
func CreatePlot(ctx context.Context, p Params, opts ...Option) error {
	cfg := defaultBuildConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	log := cfg.log

	if p.K < pos.MinPlotSize || p.K > pos.MaxPlotSize {
		return fmt.Errorf("%w: k=%d", diskerrors.ErrInvalidK, p.K)
	}
	if len(p.ID) != pos.IDLen {
		return fmt.Errorf("%w: got %d bytes", diskerrors.ErrInvalidID, len(p.ID))
	}
	if cfg.noBitfield {
		return diskerrors.ErrBitfieldRequired
	}
	if cfg.numThreads < 1 {
		cfg.numThreads = 1
	}
	if cfg.stripeSize == 0 {
		cfg.stripeSize = defaultStripeSize
	}
	for _, dir := range []string{p.TmpDir, p.Tmp2Dir, p.FinalDir} {
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			return fmt.Errorf("%w: %s", diskerrors.ErrMissingDirectory, dir)
		}
	}

	memorySize, err := usableMemory(cfg, p.K)
	if err != nil {
		return err
	}
	numBuckets, err := chooseBuckets(cfg, p.K, memorySize)
	if err != nil {
		return err
	}
	maxTable := maxTableBytes(p.K)
	if maxTable/uint64(numBuckets) < cfg.stripeSize*30 {
		return fmt.Errorf("%w: stripe %d with %d buckets", diskerrors.ErrStripeTooLarge, cfg.stripeSize, numBuckets)
	}

	if limit, err := raiseDescriptorLimit(); err != nil {
		log.Warn().Err(err).Msg("could not raise file descriptor limit")
	} else if limit < uint64(numBuckets)+16 {
		return fmt.Errorf("%w: limit %d, need %d", diskerrors.ErrDescriptorLimit, limit, numBuckets+16)
	}

	log.Info().Uint8("k", p.K).Uint64("memory_mib", cfg.memoryMiB).
		Uint32("buckets", numBuckets).Int("threads", cfg.numThreads).
		Uint64("stripe", cfg.stripeSize).
		Str("tmp", p.TmpDir).Str("tmp2", p.Tmp2Dir).
		Msg("starting plot")

	r := &plotRun{
		cfg:        cfg,
		k:          p.K,
		id:         append([]byte(nil), p.ID...),
		tmpDir:     p.TmpDir,
		baseName:   p.Filename,
		smMemory:   memorySize / 2,
		numBuckets: numBuckets,
		logBuckets: uint32(bits.Log2(uint64(numBuckets))),
	}

	tmp2Path := filepath.Join(p.Tmp2Dir, p.Filename+".2.tmp")
	finalPath := filepath.Join(p.FinalDir, p.Filename)
	_ = os.Remove(tmp2Path)
	_ = os.Remove(finalPath)

	for t := 1; t <= 7; t++ {
		path := r.tablePath(uint8(t))
		_ = os.Remove(path)
		fd, err := disk.NewFileDisk(path, log, cfg.observer)
		if err != nil {
			r.removeTableFiles()
			return err
		}
		r.tableFiles[t] = fd
	}
	defer r.removeTableFiles()

	allStart := time.Now()
	log.Info().Msg("phase 1/4: forward propagation")
	p1Start := time.Now()
	tableSizes, err := r.runPhase1(ctx)
	if err != nil {
		return fmt.Errorf("phase 1: %w", err)
	}
	log.Info().Dur("elapsed", time.Since(p1Start)).
		Uints64("table_sizes", tableSizes[1:]).Msg("phase 1 complete")

	log.Info().Msg("phase 2/4: back-propagation")
	p2Start := time.Now()
	res2, err := r.runPhase2(ctx, tableSizes)
	if err != nil {
		return fmt.Errorf("phase 2: %w", err)
	}
	log.Info().Dur("elapsed", time.Since(p2Start)).
		Uints64("table_sizes", res2.newSizes[1:]).Msg("phase 2 complete")

	r.writer, err = newPlotWriter(tmp2Path, estimateFinalSize(p.K, len(p.Memo), res2.newSizes))
	if err != nil {
		res2.close()
		return err
	}
	headerEnd := writeHeader(r.writer, p.K, p.ID, p.Memo)
	r.pointers[0] = headerEnd

	log.Info().Str("file", tmp2Path).Msg("phase 3/4: compression")
	p3Start := time.Now()
	res3, err := r.runPhase3(ctx, res2)
	if err != nil {
		r.writer.Close()
		res2.close()
		_ = os.Remove(tmp2Path)
		return fmt.Errorf("phase 3: %w", err)
	}
	log.Info().Dur("elapsed", time.Since(p3Start)).Msg("phase 3 complete")

	log.Info().Msg("phase 4/4: checkpoint tables")
	p4Start := time.Now()
	finalSize, err := r.runPhase4(ctx, res3)
	if err != nil {
		r.writer.Close()
		_ = os.Remove(tmp2Path)
		return fmt.Errorf("phase 4: %w", err)
	}
	log.Info().Dur("elapsed", time.Since(p4Start)).Msg("phase 4 complete")

	writeTablePointers(r.writer, headerEnd, &r.pointers)
	if err := r.writer.Finish(finalSize); err != nil {
		_ = os.Remove(tmp2Path)
		return err
	}
	r.removeTableFiles()

	log.Info().Uint64("bytes", finalSize).
		Dur("elapsed", time.Since(allStart)).Msg("plot written")

	return moveFinalFile(tmp2Path, finalPath, log)
}

// tablePath names one table's temporary file.
func (r *plotRun) tablePath(t uint8) string {
	return filepath.Join(r.tmpDir, fmt.Sprintf("%s.table%d.tmp", r.baseName, t))
}

func (r *plotRun) removeTableFiles() {
	for t := 1; t <= 7; t++ {
		if r.tableFiles[t] != nil {
			_ = r.tableFiles[t].Remove()
			r.tableFiles[t] = nil
		}
	}
}

// newSortManager creates a sorter under this run's temp dir and budget.
func (r *plotRun) newSortManager(entrySize uint16, name string, beginBits uint32, strategy sort.Strategy) (*sort.Manager, error) {
	return sort.NewManager(
		r.smMemory,
		r.numBuckets,
		r.logBuckets,
		entrySize,
		r.tmpDir,
		fmt.Sprintf("%s.%s", r.baseName, name),
		beginBits,
		r.cfg.stripeSize,
		strategy,
		r.cfg.log,
		r.cfg.observer,
	)
}

// sortName names a per-table sort manager within a phase.
func sortName(prefix string, t uint8) string {
	return fmt.Sprintf("%s.t%d", prefix, t)
}

// usableMemory converts the MiB budget to the byte budget available for
// sorting, subtracting a dynamic-allocation reserve and the phase-1 worker
// windows.
func usableMemory(cfg *buildConfig, k uint8) (uint64, error) {
	if cfg.memoryMiB < minMemoryMiB {
		return 0, fmt.Errorf("%w: need at least %d MiB", diskerrors.ErrInsufficientMemory, minMemoryMiB)
	}
	maxEntry := uint64(pos.MaxEntrySize(k, 4, true))
	threadMiB := uint64(cfg.numThreads) * 2 * (cfg.stripeSize + 5000) * maxEntry / (1 << 20)
	reserve := 5 + min(cfg.memoryMiB/20, 50) + threadMiB
	if reserve >= cfg.memoryMiB {
		return 0, fmt.Errorf("%w: need more than %d MiB", diskerrors.ErrInsufficientMemory, reserve)
	}
	return (cfg.memoryMiB - reserve) << 20, nil
}

// maxTableBytes is a conservative bound on the largest phase-1 table.
func maxTableBytes(k uint8) uint64 {
	var largest uint64
	for t := uint8(1); t <= 7; t++ {
		size := uint64(float64(uint64(1)<<k) * 1.3 * float64(pos.MaxEntrySize(k, t, true)))
		if size > largest {
			largest = size
		}
	}
	return largest
}

// chooseBuckets derives (or validates) the bucket count so the largest
// bucket sorts within the per-manager memory budget.
func chooseBuckets(cfg *buildConfig, k uint8, memorySize uint64) (uint32, error) {
	if cfg.numBuckets != 0 {
		n := cfg.numBuckets
		if n < pos.MinBuckets || n > pos.MaxBuckets || uint64(n) != bits.RoundPow2(uint64(n)) {
			return 0, fmt.Errorf("%w: %d", diskerrors.ErrInvalidBuckets, n)
		}
		return n, nil
	}
	need := float64(maxTableBytes(k)) / (float64(memorySize) * pos.MemSortProportion)
	n := 2 * bits.RoundPow2(uint64(math.Ceil(need)))
	if n < pos.MinBuckets {
		n = pos.MinBuckets
	}
	if n > pos.MaxBuckets {
		return 0, fmt.Errorf("%w: need %d buckets; provide more memory", diskerrors.ErrInsufficientMemory, n)
	}
	return uint32(n), nil
}

// estimateFinalSize bounds the final file for pre-allocation; the file is
// truncated to its exact size at the end.
func estimateFinalSize(k uint8, memoLen int, sizes [8]uint64) uint64 {
	total := headerSize(memoLen)
	for t := uint8(1); t <= 6; t++ {
		parks := (sizes[t+1]+pos.EntriesPerPark-1)/pos.EntriesPerPark + 1
		total += parks * uint64(pos.ParkSize(k, t))
	}
	n := sizes[7]
	total += n * uint64(pos.Table7EntrySize(k))
	numC1 := n/pos.Checkpoint1Interval + 1
	numC2 := numC1/pos.Checkpoint2Interval + 1
	total += (numC1 + numC2 + 2) * uint64(pos.CheckpointSize(k))
	total += numC1 * uint64(pos.C3Size(k))
	return total
}

// moveFinalFile renames (same filesystem) or copies the finished plot into
// place, retrying forever: by this point the plot is complete and losing it
// to a transient failure would forfeit hours of work.
func moveFinalFile(tmp2Path, finalPath string, log zerolog.Logger) error {
	for {
		err := os.Rename(tmp2Path, finalPath)
		if err == nil {
			return nil
		}
		if copyErr := copyFile(tmp2Path, finalPath); copyErr == nil {
			_ = os.Remove(tmp2Path)
			return nil
		}
		log.Warn().Err(err).Str("from", tmp2Path).Str("to", finalPath).
			Dur("retry_in", renameRetryInterval).Msg("could not move final plot, retrying")
		renameSleep(renameRetryInterval)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
