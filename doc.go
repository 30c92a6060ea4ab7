// Package diskplot builds proof-of-space plot files on disk.
//
// A plot is materialised from a 32-byte id into a file holding seven tables
// of cryptographically derived entries, organised so a verifier can locate
// a proof for a challenge quickly. Intermediate data exceeds RAM by one to
// two orders of magnitude, so every stage is built on bucketed disk I/O and
// an external-memory sort engine.
//
// # Basic Usage
//
//	err := diskplot.CreatePlot(ctx, diskplot.Params{
//	    K:        32,
//	    ID:       id,
//	    Memo:     memo,
//	    TmpDir:   "/plots/tmp",
//	    Tmp2Dir:  "/plots/tmp",
//	    FinalDir: "/plots",
//	    Filename: "plot-k32-xxxx.plot",
//	}, diskplot.WithMemoryMiB(4608), diskplot.WithThreads(4))
//
// The build runs four strictly sequential phases: forward propagation of
// the f functions into seven temporary tables, back-propagation dropping
// entries no proof references, compression into line-point order written as
// fixed-size parks, and the C1/C2/C3 checkpoint tables over f7.
//
// # Package Structure
//
//   - Public API: plotter.go (CreatePlot, Params), options.go
//   - Phases: phase1.go ... phase4.go
//   - Final file: plotwriter.go (mmap writer), header.go, park.go
//   - Sort engine: internal/sort (bucketed manager, kernels)
//   - Disk layer: internal/disk (FileDisk, BufferedDisk, FilteredDisk)
//   - Proof-of-space math: internal/pos (F1, Fx, matching, line points)
//   - Platform: rlimit_*.go, prefault_*.go (OS-specific optimizations)
package diskplot
