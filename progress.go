package diskplot

// ProgressFunc receives (phase, n, maxN) as a build advances: phase is 1-4,
// n counts completed units out of maxN. Callbacks are advisory and must not
// block for long; phase 4 emits at most maxPhase4ProgressUpdates events.
type ProgressFunc func(phase, n, maxN int)

// maxPhase4ProgressUpdates caps checkpoint-table progress events.
const maxPhase4ProgressUpdates = 16

func progressNone(int, int, int) {}
