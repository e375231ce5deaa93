// Package shell is a line oriented command interpreter over a blockfs image.
package shell

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/logrusorgru/aurora"
	"github.com/rarydzu/blockfs/blockfs"
	"github.com/rarydzu/blockfs/blockfs/pathsep"
	"github.com/rarydzu/blockfs/snapshot"
	"go.uber.org/zap"
)

var errUsage = errors.New("wrong usage of command")

// Backend serializes access to the filesystem the shell works on.
type Backend interface {
	Do(fn func(fs *blockfs.FileSystem) error) error
	Check() (*blockfs.Report, error)
	Persist() error
	Snapshot(name string) (string, error)
	Snapshots() ([]snapshot.Info, string, error)
	Restore(name string) error
	Failed() bool
}

type command struct {
	usage string
	help  string
	run   func(s *Shell, args []string, rest string) error
}

type Shell struct {
	b   Backend
	out io.Writer
	au  aurora.Aurora
	cwd pathsep.Path
	log *zap.SugaredLogger
}

// New returns a shell writing to out. colors enables ANSI colors.
func New(b Backend, out io.Writer, colors bool, log *zap.SugaredLogger) *Shell {
	return &Shell{
		b:   b,
		out: out,
		au:  aurora.NewAurora(colors),
		log: log,
	}
}

// Cwd returns the current directory.
func (s *Shell) Cwd() string {
	return s.cwd.String()
}

func (s *Shell) printf(format string, args ...interface{}) {
	fmt.Fprintf(s.out, format, args...)
}

func (s *Shell) path(name string) string {
	return s.cwd.Join(name)
}

// Run reads commands from in until exit or end of input.
func (s *Shell) Run(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		s.printf("%s ", s.au.Green(s.cwd.String()+"$"))
		if !scanner.Scan() {
			s.printf("\n")
			break
		}
		if s.Exec(scanner.Text()) {
			break
		}
	}
	return scanner.Err()
}

// Exec runs a single command line and reports whether the shell should exit.
// Failures are printed, never returned.
func (s *Shell) Exec(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return false
	}
	name, rest := cut(line)
	if name == "exit" {
		return true
	}
	cmd, ok := commands[name]
	if !ok {
		s.printf("%s\n", s.au.Red(fmt.Sprintf("Unknown command %q, try help", name)))
		return false
	}
	args := strings.Fields(rest)
	if err := cmd.run(s, args, rest); err != nil {
		if errors.Is(err, errUsage) {
			s.printf("%s\n", s.au.Red("Wrong usage of command, "+name+" "+cmd.usage))
		} else {
			s.printf("%s\n", s.au.Red(fmt.Sprintf("Error: %v", err)))
		}
		s.log.Debugf("%s: %v", name, err)
	}
	return false
}

// cut splits off the first word of line.
func cut(line string) (string, string) {
	line = strings.TrimLeft(line, " \t")
	i := strings.IndexAny(line, " \t")
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimLeft(line[i+1:], " \t")
}

func help(s *Shell, args []string, rest string) error {
	names := make([]string, 0, len(commands)+1)
	for n := range commands {
		names = append(names, n)
	}
	names = append(names, "exit")
	sort.Strings(names)
	for _, n := range names {
		if n == "exit" {
			s.printf("%-34s %s\n", "exit", "save and leave")
			continue
		}
		c := commands[n]
		s.printf("%-34s %s\n", n+" "+c.usage, c.help)
	}
	return nil
}
