package halloc

import (
	"io"
	"log/slog"
	"os"

	"github.com/QuangTung97/halloc/allocator"
)

// Config ...
type Config struct {
	// Heap backs every context not carved from a pool. Defaults to an unbounded GoHeap.
	Heap allocator.Heap

	// PoolAlignment aligns bump allocations inside pools, must be a power of two. 0 means 1.
	PoolAlignment uint32

	// Logger receives structured events. Defaults to a logger that drops everything.
	Logger *slog.Logger

	// Reporter collects trees for the leak report. Defaults to a reporter writing to stderr.
	Reporter *LeakReporter
}

// DefaultConfig ...
func DefaultConfig() Config {
	return Config{
		Heap:          allocator.NewGoHeap(0),
		PoolAlignment: 1,
	}
}

func treeValidateConfig(conf Config) {
	if conf.PoolAlignment&(conf.PoolAlignment-1) != 0 {
		panic("PoolAlignment must be a power of two")
	}
}

// noopLogger discards everything by sitting at an unreachable level.
func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000),
	}))
}

func applyDefaults(conf Config) Config {
	if conf.Heap == nil {
		conf.Heap = allocator.NewGoHeap(0)
	}
	if conf.PoolAlignment == 0 {
		conf.PoolAlignment = 1
	}
	if conf.Logger == nil {
		conf.Logger = noopLogger()
	}
	if conf.Reporter == nil {
		conf.Reporter = NewLeakReporter(os.Stderr)
	}
	return conf
}
