package worker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/jinzhu/copier"
	"github.com/rarydzu/blockfs/blockfs"
	"github.com/rarydzu/blockfs/blockfs/config"
	"github.com/rarydzu/blockfs/blockfs/volume"
	"github.com/rarydzu/blockfs/processor"
	"github.com/rarydzu/blockfs/snapshot"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/ztrue/tracerr"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrImageInUse is returned when another process holds the image open.
	ErrImageInUse = errors.New("image is in use by another process")
	// ErrStopped is returned for requests made after shutdown.
	ErrStopped = errors.New("worker stopped")
	// ErrNoSnapshots is returned when no snapshot path is configured.
	ErrNoSnapshots = errors.New("snapshots are not configured")
)

type Worker struct {
	sync.Mutex
	active    bool
	stopped   bool
	failed    bool
	Processor *processor.Processor
	log       *zap.SugaredLogger
	cfg       *config.Config
	clock     timeutil.Clock
	fs        *blockfs.FileSystem
	snap      *snapshot.Snapshot
	holder    *os.File
	saves     int
}

// Option configures a Worker.
type Option func(*Worker)

// WithClock sets the clock used for timestamps and snapshot names.
func WithClock(c timeutil.Clock) Option {
	return func(w *Worker) {
		w.clock = c
	}
}

// New opens (or formats) the image named by cfg and the snapshot catalogue.
func New(cfg *config.Config, log *zap.SugaredLogger, opts ...Option) (*Worker, error) {
	w := &Worker{
		Processor: nil,
		log:       log,
		cfg:       &config.Config{},
		clock:     timeutil.RealClock(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := copier.Copy(w.cfg, cfg); err != nil {
		return nil, err
	}
	if w.cfg.ImagePath == "" {
		return nil, fmt.Errorf("image path cannot be empty")
	}
	if w.cfg.Capacity == 0 {
		w.cfg.Capacity = config.DefaultCapacity
	}
	if w.cfg.SnapshotBackend == "" {
		w.cfg.SnapshotBackend = config.LevelDB
	}
	if w.cfg.ShutdownTimeout == 0 {
		w.cfg.ShutdownTimeout = time.Minute
	}

	pids, err := imageHolders(w.cfg.ImagePath)
	if err != nil {
		return nil, err
	}
	if len(pids) > 0 {
		return nil, fmt.Errorf("%s: %w (pids %v)", w.cfg.ImagePath, ErrImageInUse, pids)
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	if w.cfg.SnapshotPath != "" {
		snap, err := snapshot.New(w.cfg.SnapshotBackend, w.cfg.SnapshotPath, w.clock, w.log)
		if err != nil {
			w.release()
			return nil, err
		}
		w.snap = snap
	}
	return w, nil
}

// open loads the image or formats a new one when none exists yet.
func (w *Worker) open() error {
	fs, err := blockfs.Load(w.cfg.ImagePath, w.log, blockfs.WithClock(w.clock))
	switch {
	case err == nil:
		w.log.Infof("loaded %s: %d/%d blocks used", w.cfg.ImagePath, fs.UsedBlocks(), fs.TotalBlocks())
	case errors.Is(err, os.ErrNotExist):
		fs, err = blockfs.Format(w.cfg.Capacity, w.log, blockfs.WithClock(w.clock))
		if err != nil {
			return err
		}
		if err := fs.Save(w.cfg.ImagePath); err != nil {
			return err
		}
		w.log.Infof("formatted %s: %d blocks", w.cfg.ImagePath, fs.TotalBlocks())
	default:
		return err
	}
	w.fs = fs
	if err := w.hold(); err != nil {
		return err
	}
	if _, err := os.Stat(w.cfg.MarkerPath()); err == nil {
		w.log.Warnf("previous run left %s, checking image", w.cfg.MarkerPath())
		w.verify()
	}
	return nil
}

// verify checks the volume and clears the failure marker when it is sound.
// Callers hold the lock or have not shared the worker yet.
func (w *Worker) verify() *blockfs.Report {
	report := w.fs.Check()
	if !report.OK() {
		w.failed = true
		w.log.Errorf("image check failed: %s", report)
		return report
	}
	w.failed = false
	if err := os.Remove(w.cfg.MarkerPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.log.Warnf("remove %s: %v", w.cfg.MarkerPath(), err)
	}
	w.log.Infof("image check passed: %s", report)
	return report
}

// hold keeps the image file open so other processes can see it is in use.
// Saving replaces the file, so hold is called again after every save.
func (w *Worker) hold() error {
	f, err := os.Open(w.cfg.ImagePath)
	if err != nil {
		return err
	}
	if w.holder != nil {
		w.holder.Close()
	}
	w.holder = f
	return nil
}

func (w *Worker) release() {
	if w.holder != nil {
		w.holder.Close()
		w.holder = nil
	}
}

// imageHolders returns the pids of other processes that have path open.
func imageHolders(path string) ([]int32, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	myPid := int32(os.Getpid())
	processes, err := process.Processes()
	if err != nil {
		return nil, err
	}
	var pids []int32
	for _, p := range processes {
		if p.Pid == myPid {
			continue
		}
		openFiles, err := p.OpenFiles()
		if err != nil {
			continue
		}
		for _, f := range openFiles {
			if f.Path == abs {
				pids = append(pids, p.Pid)
				break
			}
		}
	}
	return pids, nil
}

func (w *Worker) Start() error {
	w.Lock()
	defer w.Unlock()
	if w.active {
		return fmt.Errorf("Worker already active")
	}
	w.active = true
	w.Processor = processor.New(w.cfg.ShutdownTimeout, w.log)
	if err := w.Processor.Register(processor.Reload, "image", w.Persist); err != nil {
		return err
	}
	if err := w.Processor.Register(processor.Shutdown, "image", w.Shutdown); err != nil {
		return err
	}
	return w.Processor.Run()
}

// Do runs fn with exclusive access to the filesystem. A fatal error returned
// by fn marks the image failed.
func (w *Worker) Do(fn func(fs *blockfs.FileSystem) error) error {
	w.Lock()
	defer w.Unlock()
	if w.stopped {
		return ErrStopped
	}
	err := fn(w.fs)
	if blockfs.IsFatal(err) {
		w.markFailed(err)
	}
	return err
}

// markFailed writes the failure marker so the next start checks the image.
func (w *Worker) markFailed(err error) {
	w.failed = true
	var fe *volume.FatalError
	if errors.As(err, &fe) && fe.Trace() != nil {
		w.log.Errorf("fatal error, image marked failed: %s", tracerr.Sprint(fe.Trace()))
	} else {
		w.log.Errorf("fatal error, image marked failed: %v", err)
	}
	msg := fmt.Sprintf("%s %v\n", w.clock.Now().Format(time.RFC3339), err)
	if werr := os.WriteFile(w.cfg.MarkerPath(), []byte(msg), 0644); werr != nil {
		w.log.Errorf("write %s: %v", w.cfg.MarkerPath(), werr)
	}
}

// Failed reports whether a fatal error or a failed check left the image in
// an untrusted state.
func (w *Worker) Failed() bool {
	w.Lock()
	defer w.Unlock()
	return w.failed
}

// Check runs a consistency check. A failing check marks the image failed, a
// passing one clears an earlier failure.
func (w *Worker) Check() (*blockfs.Report, error) {
	w.Lock()
	defer w.Unlock()
	if w.stopped {
		return nil, ErrStopped
	}
	report := w.verify()
	if !report.OK() {
		w.markFailed(fmt.Errorf("%w: %d problems found", volume.ErrCorrupted, len(report.Problems)))
	}
	return report, nil
}

// Persist saves the image and, with AutoSnapshot, records a snapshot of it
// at the same time.
func (w *Worker) Persist() error {
	w.Lock()
	defer w.Unlock()
	if w.stopped {
		return ErrStopped
	}
	return w.persist()
}

func (w *Worker) persist() error {
	if w.failed {
		w.log.Warnf("image is marked failed, saving anyway")
	}
	g := &errgroup.Group{}
	if w.cfg.AutoSnapshot && w.snap != nil {
		img := w.fs.Image()
		w.saves++
		name := fmt.Sprintf("auto-%s-%d", w.clock.Now().Format("20060102-150405"), w.saves)
		g.Go(func() error {
			_, err := w.snap.Create(name, img)
			return err
		})
	}
	g.Go(func() error {
		return w.fs.Save(w.cfg.ImagePath)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return w.hold()
}

// Snapshot records the current image under name and returns its id.
func (w *Worker) Snapshot(name string) (string, error) {
	w.Lock()
	defer w.Unlock()
	if w.stopped {
		return "", ErrStopped
	}
	if w.snap == nil {
		return "", ErrNoSnapshots
	}
	return w.snap.Create(name, w.fs.Image())
}

// Snapshots lists the catalogue.
func (w *Worker) Snapshots() ([]snapshot.Info, string, error) {
	w.Lock()
	defer w.Unlock()
	if w.snap == nil {
		return nil, "", ErrNoSnapshots
	}
	l, err := w.snap.List()
	if err != nil {
		return nil, "", err
	}
	cur, err := w.snap.Current()
	return l, cur, err
}

// Restore replaces the in-memory filesystem with snapshot name. The image
// on disk changes on the next save.
func (w *Worker) Restore(name string) error {
	w.Lock()
	defer w.Unlock()
	if w.stopped {
		return ErrStopped
	}
	if w.snap == nil {
		return ErrNoSnapshots
	}
	img, err := w.snap.Restore(name)
	if err != nil {
		return err
	}
	fs, err := blockfs.FromImage(img, w.log, blockfs.WithClock(w.clock))
	if err != nil {
		return err
	}
	w.fs = fs
	if w.failed {
		w.verify()
	}
	return nil
}

// Shutdown saves the image and closes the catalogue. Later requests fail
// with ErrStopped.
func (w *Worker) Shutdown() error {
	w.Lock()
	defer w.Unlock()
	if w.stopped {
		return nil
	}
	err := w.persist()
	w.stopped = true
	w.release()
	if w.snap != nil {
		err = multierr.Append(err, w.snap.Close())
	}
	return err
}

// Stop starts the shutdown sequence as if SIGTERM had been received.
func (w *Worker) Stop() error {
	if w.Processor == nil {
		return w.Shutdown()
	}
	return w.Processor.Trigger(processor.Shutdown)
}

// Done is closed once a started worker has shut down.
func (w *Worker) Done() <-chan struct{} {
	if w.Processor == nil {
		return nil
	}
	return w.Processor.Done()
}

func (w *Worker) Wait() {
	if w.Processor != nil {
		w.Processor.Wait()
	}
}
