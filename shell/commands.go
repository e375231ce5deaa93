package shell

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rarydzu/blockfs/blockfs"
	"github.com/rarydzu/blockfs/blockfs/dir"
	"github.com/rarydzu/blockfs/blockfs/pathsep"
	"github.com/rarydzu/blockfs/blockfs/volume"
	"github.com/rarydzu/blockfs/utils"
)

var commands map[string]command

func init() {
	commands = map[string]command{
		"help":      {"", "list commands", help},
		"status":    {"", "block usage of the image", status},
		"mkdir":     {"<name>", "create a directory", mkdir},
		"ls":        {"", "list the current directory", ls},
		"tree":      {"", "show the tree below the current directory", tree},
		"touch":     {"<name>", "create an empty file", touch},
		"write":     {"<name> [text]", "replace the file contents with text", write},
		"app":       {"<name> [text]", "append a line of text", app},
		"appb":      {"<name> <count> <char>", "append count copies of char", appb},
		"read":      {"<name>", "print a file", read},
		"cd":        {"<name>|..", "change directory", cd},
		"pdir":      {"", "print the parent of the current directory", pdir},
		"rm":        {"<name>", "delete a file", rm},
		"rmdir":     {"<name>", "delete an empty directory", rmdir},
		"rename":    {"<name> <new name>", "rename a file", rename},
		"renamedir": {"<name> <new name>", "rename a directory", renamedir},
		"upload":    {"<host path> [name]", "copy a host file into the current directory", upload},
		"download":  {"<name> [host path]", "copy a file out to the host", download},
		"fsck":      {"", "check the image for inconsistencies", fsck},
		"save":      {"", "write the image to disk", save},
		"snapshot":  {"<name>", "record a named snapshot of the image", takeSnapshot},
		"snapshots": {"", "list snapshots", snapshots},
		"restore":   {"<name>", "replace the image with a snapshot", restore},
	}
}

func arg(args []string, n int) error {
	if len(args) < n {
		return errUsage
	}
	return nil
}

func status(s *Shell, args []string, rest string) error {
	var total, used, free int
	if err := s.b.Do(func(fs *blockfs.FileSystem) error {
		total, used, free = fs.TotalBlocks(), fs.UsedBlocks(), fs.FreeBlocks()
		return nil
	}); err != nil {
		return err
	}
	s.printf("%s\n", s.au.Blue(fmt.Sprintf("total blocks: %-6d         ( %s )", total, utils.FormatSize(total*volume.BlockSize))))
	s.printf("%s\n", s.au.Blue(fmt.Sprintf("used  blocks: %-6d %5.1f %% ( %s )", used, utils.Percent(used, total), utils.FormatSize(used*volume.BlockSize))))
	s.printf("%s\n", s.au.Blue(fmt.Sprintf("free  blocks: %-6d %5.1f %% ( %s )", free, utils.Percent(free, total), utils.FormatSize(free*volume.BlockSize))))
	if s.b.Failed() {
		s.printf("%s\n", s.au.Red("image is marked failed, run fsck"))
	}
	return nil
}

func mkdir(s *Shell, args []string, rest string) error {
	if err := arg(args, 1); err != nil {
		return err
	}
	path := s.path(args[0])
	s.printf("%s\n", s.au.Blue("Creating directory "+path))
	return s.b.Do(func(fs *blockfs.FileSystem) error {
		return fs.CreateDirectory(path)
	})
}

const listFormat = "%-32s | %-4s | %-20s | %-20s | %s"

func ls(s *Shell, args []string, rest string) error {
	return s.b.Do(func(fs *blockfs.FileSystem) error {
		entries, err := fs.List(s.cwd.String())
		if err != nil {
			return err
		}
		s.printf("%s\n", s.au.Green(fmt.Sprintf(listFormat, "name", "type", "date created", "date modified", "size")))
		for _, e := range entries {
			var line string
			if e.IsDir() {
				line = fmt.Sprintf(listFormat, e.Name, "dir", utils.FormatDate(e.Created), "", "")
			} else {
				line = fmt.Sprintf(listFormat, e.Name, "file", utils.FormatDate(e.Created), utils.FormatDate(e.Modified), utils.FormatSize(int(e.Size)))
			}
			s.printf("%s\n", s.au.Cyan(line))
		}
		return nil
	})
}

func tree(s *Shell, args []string, rest string) error {
	s.printf("%s\n", s.au.Magenta(s.cwd.String()))
	return s.b.Do(func(fs *blockfs.FileSystem) error {
		return s.tree(fs, s.cwd.String(), 1)
	})
}

func (s *Shell) tree(fs *blockfs.FileSystem, path string, level int) error {
	it, err := fs.DirectoryIterator(path)
	if err != nil {
		return err
	}
	indent := strings.Repeat("    ", level)
	for it.Next() {
		e := it.Entry()
		if e.Type != dir.TypeDirectory {
			s.printf("%s%s\n", indent, s.au.Blue(e.Name))
			continue
		}
		s.printf("%s%s\n", indent, s.au.Magenta(e.Name))
		child := path + "/" + e.Name
		if path == "/" {
			child = "/" + e.Name
		}
		if err := s.tree(fs, child, level+1); err != nil {
			return err
		}
	}
	return it.Err()
}

func touch(s *Shell, args []string, rest string) error {
	if err := arg(args, 1); err != nil {
		return err
	}
	return s.b.Do(func(fs *blockfs.FileSystem) error {
		return fs.CreateFile(s.path(args[0]))
	})
}

// text returns what follows the file name, terminated by a newline, or
// nothing when no text was given.
func text(rest string) []byte {
	_, t := cut(rest)
	if t == "" {
		return nil
	}
	return []byte(t + "\n")
}

func write(s *Shell, args []string, rest string) error {
	if err := arg(args, 1); err != nil {
		return err
	}
	data := text(rest)
	if data != nil {
		s.printf("%s\n", s.au.Green("Writing "+strings.TrimSuffix(string(data), "\n")))
	}
	return s.b.Do(func(fs *blockfs.FileSystem) error {
		return fs.WriteFile(s.path(args[0]), data, blockfs.Write)
	})
}

func app(s *Shell, args []string, rest string) error {
	if err := arg(args, 1); err != nil {
		return err
	}
	data := text(rest)
	if data != nil {
		s.printf("%s\n", s.au.Green("Appending "+strings.TrimSuffix(string(data), "\n")))
	}
	return s.b.Do(func(fs *blockfs.FileSystem) error {
		return fs.WriteFile(s.path(args[0]), data, blockfs.Append)
	})
}

func appb(s *Shell, args []string, rest string) error {
	if err := arg(args, 3); err != nil {
		return err
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n < 1 {
		return errUsage
	}
	data := bytes.Repeat([]byte{args[2][0]}, n)
	if err := s.b.Do(func(fs *blockfs.FileSystem) error {
		return fs.WriteFile(s.path(args[0]), data, blockfs.Append)
	}); err != nil {
		return err
	}
	s.printf("%s\n", s.au.Blue(fmt.Sprintf("Appended %d bytes", n)))
	return nil
}

func read(s *Shell, args []string, rest string) error {
	if err := arg(args, 1); err != nil {
		return err
	}
	return s.b.Do(func(fs *blockfs.FileSystem) error {
		data, err := fs.ReadFile(s.path(args[0]))
		if err != nil {
			return err
		}
		s.printf("%s", s.au.Blue(string(data)))
		return nil
	})
}

func cd(s *Shell, args []string, rest string) error {
	if err := arg(args, 1); err != nil {
		return err
	}
	if args[0] == ".." {
		s.cwd.Pop()
		return nil
	}
	path := s.path(args[0])
	var ok bool
	if err := s.b.Do(func(fs *blockfs.FileSystem) (err error) {
		ok, err = fs.DirectoryExists(path)
		return err
	}); err != nil {
		return err
	}
	if !ok {
		s.printf("%s\n", s.au.Red("Directory "+path+" does not exist"))
		return nil
	}
	s.cwd.Push(args[0])
	return nil
}

func pdir(s *Shell, args []string, rest string) error {
	return s.b.Do(func(fs *blockfs.FileSystem) error {
		p, err := fs.ParentDirectory(s.cwd.String())
		if err != nil {
			return err
		}
		s.printf("%s\n", s.au.Blue("Parent dir: "+p))
		return nil
	})
}

func rm(s *Shell, args []string, rest string) error {
	if err := arg(args, 1); err != nil {
		return err
	}
	return s.b.Do(func(fs *blockfs.FileSystem) error {
		return fs.DeleteFile(s.path(args[0]))
	})
}

func rmdir(s *Shell, args []string, rest string) error {
	if err := arg(args, 1); err != nil {
		return err
	}
	return s.b.Do(func(fs *blockfs.FileSystem) error {
		return fs.DeleteDirectory(s.path(args[0]))
	})
}

func rename(s *Shell, args []string, rest string) error {
	if err := arg(args, 2); err != nil {
		return err
	}
	return s.b.Do(func(fs *blockfs.FileSystem) error {
		return fs.RenameFile(s.path(args[0]), args[1])
	})
}

func renamedir(s *Shell, args []string, rest string) error {
	if err := arg(args, 2); err != nil {
		return err
	}
	return s.b.Do(func(fs *blockfs.FileSystem) error {
		return fs.RenameDirectory(s.path(args[0]), args[1])
	})
}

// upload copies a host file in and reads it back to compare.
func upload(s *Shell, args []string, rest string) error {
	if err := arg(args, 1); err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		s.printf("%s\n", s.au.Red("Upload failed: "+err.Error()))
		return nil
	}
	name := filepath.Base(args[0])
	if len(args) > 1 {
		name = args[1]
	}
	path := s.path(name)
	return s.b.Do(func(fs *blockfs.FileSystem) error {
		if err := fs.WriteFile(path, data, blockfs.Write); err != nil {
			return err
		}
		got, err := fs.ReadFile(path)
		if err != nil {
			return err
		}
		if !bytes.Equal(got, data) {
			s.printf("%s\n", s.au.Red("Upload failed: data integrity check"))
			return nil
		}
		s.printf("%s\n", s.au.Blue(fmt.Sprintf("File %s uploaded successfully to %s (%s)", args[0], path, utils.FormatSize(len(data)))))
		return nil
	})
}

func download(s *Shell, args []string, rest string) error {
	if err := arg(args, 1); err != nil {
		return err
	}
	path := s.path(args[0])
	host := args[0]
	if len(args) > 1 {
		host = args[1]
	}
	var data []byte
	if err := s.b.Do(func(fs *blockfs.FileSystem) (err error) {
		data, err = fs.ReadFile(path)
		return err
	}); err != nil {
		return err
	}
	if err := os.WriteFile(host, data, 0644); err != nil {
		s.printf("%s\n", s.au.Red("Download failed: "+err.Error()))
		return nil
	}
	s.printf("%s\n", s.au.Blue(fmt.Sprintf("File %s downloaded to %s (%s)", path, host, utils.FormatSize(len(data)))))
	return nil
}

func fsck(s *Shell, args []string, rest string) error {
	report, err := s.b.Check()
	if err != nil {
		return err
	}
	if report.OK() {
		s.printf("%s\n", s.au.Green("clean: "+report.String()))
		return nil
	}
	s.printf("%s\n", s.au.Red(fmt.Sprintf("%d problems: %s", len(report.Problems), report)))
	return nil
}

func save(s *Shell, args []string, rest string) error {
	if err := s.b.Persist(); err != nil {
		return err
	}
	s.printf("%s\n", s.au.Blue("Image saved"))
	return nil
}

func takeSnapshot(s *Shell, args []string, rest string) error {
	if err := arg(args, 1); err != nil {
		return err
	}
	id, err := s.b.Snapshot(args[0])
	if err != nil {
		return err
	}
	s.printf("%s\n", s.au.Blue(fmt.Sprintf("Snapshot %s created (%s)", args[0], id[:12])))
	return nil
}

const snapshotFormat = "%-1s %-32s | %-12s | %-20s | %s"

func snapshots(s *Shell, args []string, rest string) error {
	l, cur, err := s.b.Snapshots()
	if err != nil {
		return err
	}
	s.printf("%s\n", s.au.Green(fmt.Sprintf(snapshotFormat, "", "name", "id", "date created", "used")))
	for _, info := range l {
		mark := ""
		if info.Name == cur {
			mark = "*"
		}
		used := fmt.Sprintf("%d/%d blocks (%s)", info.UsedBlocks, info.TotalBlocks, utils.FormatSize(info.UsedBlocks*volume.BlockSize))
		s.printf("%s\n", s.au.Cyan(fmt.Sprintf(snapshotFormat, mark, info.Name, info.ID[:12], utils.FormatDate(info.Created), used)))
	}
	return nil
}

func restore(s *Shell, args []string, rest string) error {
	if err := arg(args, 1); err != nil {
		return err
	}
	if err := s.b.Restore(args[0]); err != nil {
		return err
	}
	s.cwd = pathsep.Path{}
	s.printf("%s\n", s.au.Blue("Restored snapshot "+args[0]))
	return nil
}
