package main

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/rarydzu/blockfs/blockfs/config"
	"github.com/rarydzu/blockfs/shell"
	"github.com/rarydzu/blockfs/worker"
	"go.uber.org/zap"
)

var fImage = flag.String("image", "storage.fs", "Path to the volume image.")
var fCapacity = flag.Int("capacity", config.DefaultCapacity, "Size in bytes of a newly formatted image.")
var fSnapshotPath = flag.String("snapshot_path", "", "Directory of the snapshot catalogue, empty disables snapshots.")
var fSnapshotBackend = flag.String("snapshot_backend", config.LevelDB, "Snapshot store: leveldb or badger.")
var fAutoSnapshot = flag.Bool("auto_snapshot", false, "Record a snapshot on every save.")
var fDev = flag.Bool("dev", false, "Run in development mode")
var fShutdownTimeout = flag.Duration("shutdown_timeout", 60*time.Second, "Force exit when saving takes longer than this.")
var fNoColor = flag.Bool("no_color", false, "Disable colored output.")

func main() {
	flag.Parse()
	logger, err := zap.NewProduction()
	if *fDev {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Failed to initialize zap logger: %v", err)
	}
	sugarlog := logger.Sugar()
	defer sugarlog.Sync()

	w, err := worker.New(&config.Config{
		ImagePath:       *fImage,
		Capacity:        *fCapacity,
		SnapshotPath:    *fSnapshotPath,
		SnapshotBackend: *fSnapshotBackend,
		AutoSnapshot:    *fAutoSnapshot,
		DebugMode:       *fDev,
		ShutdownTimeout: *fShutdownTimeout,
	}, sugarlog)
	if err != nil {
		log.Fatalf("open image: %v", err)
	}
	if err := w.Start(); err != nil {
		log.Fatalf("Start: %v", err)
	}
	go func() {
		sh := shell.New(w, os.Stdout, !*fNoColor, sugarlog)
		if err := sh.Run(os.Stdin); err != nil {
			sugarlog.Errorf("shell: %v", err)
		}
		if err := w.Stop(); err != nil {
			sugarlog.Errorf("stop: %v", err)
		}
	}()
	w.Wait()
}
