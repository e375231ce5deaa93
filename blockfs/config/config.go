package config

import (
	"time"
)

const (
	// DefaultCapacity size of a freshly formatted image
	DefaultCapacity = 32 << 20
	// LevelDB snapshot backend
	LevelDB = "leveldb"
	// Badger snapshot backend
	Badger = "badger"
)

type Config struct {
	// ImagePath path to the volume image
	ImagePath string
	// Capacity size in bytes used when the image has to be formatted
	Capacity int
	//SnapshotPath directory of the snapshot catalogue, empty disables snapshots
	SnapshotPath string
	//SnapshotBackend key value store of the catalogue (leveldb or badger)
	SnapshotBackend string
	//AutoSnapshot take a snapshot every time the image is saved
	AutoSnapshot bool
	//DebugMode run in debug mode
	DebugMode bool
	//ShutdownTimeout timeout for shutdown
	ShutdownTimeout time.Duration
}

// MarkerPath returns the path of the marker left behind by a failed run.
func (c *Config) MarkerPath() string {
	return c.ImagePath + ".broken"
}
