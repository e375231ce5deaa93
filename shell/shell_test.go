package shell

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rarydzu/blockfs/blockfs"
	"github.com/rarydzu/blockfs/blockfs/config"
	"github.com/rarydzu/blockfs/blockfs/volume"
	"github.com/rarydzu/blockfs/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newShell(t *testing.T, snapshots bool) (*Shell, *worker.Worker, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		ImagePath: filepath.Join(dir, "storage.fs"),
		Capacity:  4 * volume.MinImageSize,
	}
	if snapshots {
		cfg.SnapshotPath = filepath.Join(dir, "snapshots")
	}
	w, err := worker.New(cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { w.Shutdown() })
	var out bytes.Buffer
	return New(w, &out, false, zap.NewNop().Sugar()), w, &out
}

func run(t *testing.T, s *Shell, out *bytes.Buffer, script string) string {
	t.Helper()
	out.Reset()
	require.NoError(t, s.Run(strings.NewReader(script)))
	return out.String()
}

func TestDirectories(t *testing.T) {
	s, _, out := newShell(t, false)
	got := run(t, s, out, `
mkdir docs
mkdir docs
cd docs
mkdir deep
cd deep
pdir
cd ..
cd nowhere
`)
	assert.Contains(t, got, "Creating directory /docs")
	assert.Contains(t, got, "mkdir /docs: entry already exists")
	assert.Contains(t, got, "Parent dir: /docs")
	assert.Contains(t, got, "Directory /docs/nowhere does not exist")
	assert.Equal(t, "/docs", s.Cwd())
}

func TestFiles(t *testing.T) {
	s, w, out := newShell(t, false)
	got := run(t, s, out, `
write a.txt hello   world
app a.txt second line
appb a.txt 3 x
read a.txt
touch b.txt
rename b.txt c.txt
ls
rm c.txt
rm c.txt
`)
	assert.Contains(t, got, "Writing hello   world")
	assert.Contains(t, got, "hello   world\nsecond line\nxxx")
	assert.Contains(t, got, "Appended 3 bytes")
	assert.Contains(t, got, "c.txt")
	assert.Contains(t, got, "rm /c.txt: no such entry")

	require.NoError(t, w.Do(func(fs *blockfs.FileSystem) error {
		e, err := fs.Stat("/a.txt")
		assert.Equal(t, uint32(len("hello   world\nsecond line\nxxx")), e.Size)
		return err
	}))
}

func TestUsageAndUnknown(t *testing.T) {
	s, _, out := newShell(t, false)
	got := run(t, s, out, `
# a comment
mkdir
appb f zero x
frobnicate
exit
mkdir never
`)
	assert.Contains(t, got, "Wrong usage of command, mkdir <name>")
	assert.Contains(t, got, "Wrong usage of command, appb")
	assert.Contains(t, got, `Unknown command "frobnicate"`)
	assert.NotContains(t, got, "never")
}

func TestTreeAndStatus(t *testing.T) {
	s, _, out := newShell(t, false)
	got := run(t, s, out, `
mkdir a
cd a
mkdir b
write f.txt x
cd ..
tree
status
`)
	assert.Contains(t, got, "    a\n        b\n        f.txt\n")
	assert.Contains(t, got, "used  blocks: 4")
	assert.Contains(t, got, "total blocks: 1023")
}

func TestRenameDirAndRmdir(t *testing.T) {
	s, _, out := newShell(t, false)
	got := run(t, s, out, `
mkdir old
renamedir old new
cd old
rmdir new
cd new
`)
	assert.Contains(t, got, "Directory /old does not exist")
	assert.Contains(t, got, "Directory /new does not exist")
}

func TestUpload(t *testing.T) {
	s, w, out := newShell(t, false)
	host := filepath.Join(t.TempDir(), "payload.bin")
	data := bytes.Repeat([]byte("0123456789abcdef"), 1000)
	require.NoError(t, os.WriteFile(host, data, 0644))

	got := run(t, s, out, "upload "+host+"\nupload "+host+" copy.bin\nupload /does/not/exist\n")
	assert.Contains(t, got, "uploaded successfully to /payload.bin")
	assert.Contains(t, got, "uploaded successfully to /copy.bin")
	assert.Contains(t, got, "Upload failed")

	require.NoError(t, w.Do(func(fs *blockfs.FileSystem) error {
		got, err := fs.ReadFile("/copy.bin")
		assert.Equal(t, data, got)
		return err
	}))
}

func TestDownload(t *testing.T) {
	s, _, out := newShell(t, false)
	hostDir := t.TempDir()
	host := filepath.Join(hostDir, "out.txt")
	got := run(t, s, out, "mkdir d\ncd d\nwrite a.txt some text\ndownload a.txt "+host+
		"\ndownload missing.txt "+host+".2\ndownload a.txt "+filepath.Join(hostDir, "no", "such", "dir")+"\n")
	assert.Contains(t, got, "File /d/a.txt downloaded to "+host)
	assert.Contains(t, got, "no such entry")
	assert.Contains(t, got, "Download failed")

	data, err := os.ReadFile(host)
	require.NoError(t, err)
	assert.Equal(t, "some text\n", string(data))
	_, err = os.Stat(host + ".2")
	assert.True(t, os.IsNotExist(err))
}

func TestFsckAndSave(t *testing.T) {
	s, _, out := newShell(t, false)
	got := run(t, s, out, "mkdir x\nfsck\nsave\nsnapshot s\n")
	assert.Contains(t, got, "clean: 2 directories")
	assert.Contains(t, got, "Image saved")
	assert.Contains(t, got, "snapshots are not configured")
}

func TestSnapshots(t *testing.T) {
	s, _, out := newShell(t, true)
	got := run(t, s, out, `
mkdir keep
snapshot first
rmdir keep
mkdir other
cd other
snapshots
restore first
ls
restore missing
`)
	assert.Contains(t, got, "Snapshot first created")
	assert.Contains(t, got, "* first")
	assert.Contains(t, got, "Restored snapshot first")
	assert.Contains(t, got, "keep")
	assert.Contains(t, got, "not found")
	assert.Equal(t, "/", s.Cwd())
}
