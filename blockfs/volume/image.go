package volume

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// FromImage validates img and takes ownership of it. The caller must not
// touch img afterwards.
func FromImage(img []byte, log *zap.SugaredLogger) (*Volume, error) {
	if len(img) < MinImageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrImageTooSmall, len(img))
	}
	if !bytes.Equal(img[hdrMagic:hdrMagic+len(magic)], magic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidImage)
	}
	want := binary.LittleEndian.Uint32(img[hdrChecksum:])
	if got := crc32.ChecksumIEEE(img[:hdrChecksum]); got != want {
		return nil, fmt.Errorf("%w: header checksum %08x, expected %08x", ErrInvalidImage, got, want)
	}
	v := &Volume{buf: img, log: log}
	total := v.TotalBlocks()
	if len(img) != HeaderSize+total*BlockSize {
		return nil, fmt.Errorf("%w: %d blocks recorded for %d bytes", ErrInvalidImage, total, len(img))
	}
	if used := v.UsedBlocks(); used < 1 || used > total {
		return nil, fmt.Errorf("%w: %d used blocks of %d", ErrInvalidImage, used, total)
	}
	if ff := v.FirstFree(); ff != None && (!v.valid(ff) || ff == RootBlock) {
		return nil, fmt.Errorf("%w: free list head %d", ErrInvalidImage, ff)
	}
	log.Debugf("loaded volume: %d bytes, %d/%d blocks used", len(img), v.UsedBlocks(), total)
	return v, nil
}

// Load reads a whole image from path.
func Load(path string, log *zap.SugaredLogger) (*Volume, error) {
	img, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	v, err := FromImage(img, log)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return v, nil
}

// Save writes the whole image to path. The image goes to a temporary file in
// the same directory first and is renamed over path once fully written.
func (v *Volume) Save(path string) error {
	v.stamp()
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(v.buf); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write image: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename image: %w", err)
	}
	v.log.Debugf("saved volume to %s (%d/%d blocks used)", path, v.UsedBlocks(), v.TotalBlocks())
	return nil
}

// WriteTo streams the stamped image to w.
func (v *Volume) WriteTo(w io.Writer) (int64, error) {
	v.stamp()
	n, err := w.Write(v.buf)
	return int64(n), err
}

// Image returns a stamped copy of the whole buffer.
func (v *Volume) Image() []byte {
	v.stamp()
	img := make([]byte, len(v.buf))
	copy(img, v.buf)
	return img
}
