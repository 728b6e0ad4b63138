// Package shell drives a device set through a small line oriented command
// language. Each line is one command; keywords are case insensitive and
// strings are double quoted with Go escapes.
//
//	open <minor> [rdonly|wronly|rdwr]
//	close <minor>
//	write <minor> <offset> "<text>"
//	read <minor> <offset> <count>
//	dump <minor>
//	trim <minor>
//	stat [<minor>...]
//	defaults <quantum> <qset>
//	list
package shell

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gravitational/trace"
	"github.com/sekai02/scull/internal/api"
	"github.com/sekai02/scull/internal/device"
	"github.com/sekai02/scull/internal/qset"
	log "github.com/sirupsen/logrus"
)

// Shell executes commands against one device set. Exec and Run are not
// safe for concurrent use; Interrupt may be called from any goroutine.
type Shell struct {
	svc *api.Service
	set *device.Set
	out io.Writer

	// handles holds the open file per minor
	handles map[int]*api.File

	mu     sync.Mutex
	cancel context.CancelFunc

	logger *log.Entry
}

func New(svc *api.Service, set *device.Set, out io.Writer) *Shell {
	return &Shell{
		svc:     svc,
		set:     set,
		out:     out,
		handles: make(map[int]*api.File),
		logger:  log.WithField(trace.Component, "scull.shell"),
	}
}

// Run reads commands from in until it is exhausted or ctx is closed. A
// failing command is reported to the output and the loop goes on. Handles
// left open are released on return.
func (s *Shell) Run(ctx context.Context, in io.Reader, prompt string) error {
	defer s.closeAll()

	scanner := bufio.NewScanner(in)
	for {
		if prompt != "" {
			fmt.Fprint(s.out, prompt)
		}
		if !scanner.Scan() {
			break
		}
		if err := ctx.Err(); err != nil {
			return trace.Wrap(err)
		}

		if err := s.execLine(ctx, scanner.Text()); err != nil {
			s.report(err)
		}
	}
	if err := scanner.Err(); err != nil {
		return trace.ConvertSystemError(err)
	}
	return nil
}

// Interrupt cancels the command in flight, if any.
func (s *Shell) Interrupt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

func (s *Shell) execLine(ctx context.Context, line string) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()
	return s.Exec(ctx, line)
}

func (s *Shell) report(err error) {
	switch {
	case device.IsInterrupted(err):
		fmt.Fprintln(s.out, "interrupted")
	case device.IsOutOfMemory(err):
		fmt.Fprintln(s.out, "out of memory:", trace.UserMessage(err))
	default:
		fmt.Fprintln(s.out, "error:", trace.UserMessage(err))
	}
	s.logger.Debug("Command failed, err=", err)
}

// Exec runs a single command line. Blank lines and lines starting with #
// are ignored.
func (s *Shell) Exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}

	cmd, err := parseCommand(line)
	if err != nil {
		return trace.BadParameter("failed to parse %q: %v", line, err)
	}

	switch {
	case cmd.Open != nil:
		return s.open(ctx, cmd.Open)
	case cmd.Close != nil:
		return s.close(cmd.Close.Minor)
	case cmd.Write != nil:
		return s.write(ctx, cmd.Write)
	case cmd.Read != nil:
		return s.read(ctx, cmd.Read)
	case cmd.Dump != nil:
		return s.dump(ctx, cmd.Dump.Minor)
	case cmd.Trim != nil:
		return s.trim(ctx, cmd.Trim.Minor)
	case cmd.Defaults != nil:
		return s.defaults(cmd.Defaults)
	case cmd.Stat:
		return s.stat(ctx, cmd.StatMinors)
	case cmd.List:
		return s.list(ctx)
	}
	return trace.BadParameter("unsupported command %q", line)
}

func openFlag(mode string) int {
	switch strings.ToUpper(mode) {
	case "RDONLY":
		return os.O_RDONLY
	case "WRONLY":
		return os.O_WRONLY
	default:
		return os.O_RDWR
	}
}

func modeName(flag int) string {
	switch flag & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR) {
	case os.O_RDONLY:
		return "rdonly"
	case os.O_WRONLY:
		return "wronly"
	}
	return "rdwr"
}

func (s *Shell) open(ctx context.Context, oc *openCmd) error {
	if _, ok := s.handles[oc.Minor]; ok {
		return trace.AlreadyExists("device %d is already open", oc.Minor)
	}

	f, err := s.svc.OpenFile(ctx, oc.Minor, openFlag(oc.Mode))
	if err != nil {
		return trace.Wrap(err)
	}
	s.handles[oc.Minor] = f

	fmt.Fprintf(s.out, "opened scull%d (%s)\n", oc.Minor, modeName(f.Flag()))
	return nil
}

func (s *Shell) handle(minor int) (*api.File, error) {
	f, ok := s.handles[minor]
	if !ok {
		return nil, trace.BadParameter("device %d is not open", minor)
	}
	return f, nil
}

func (s *Shell) close(minor int) error {
	f, err := s.handle(minor)
	if err != nil {
		return trace.Wrap(err)
	}
	delete(s.handles, minor)

	if err := f.Release(); err != nil {
		return trace.Wrap(err)
	}
	fmt.Fprintf(s.out, "closed scull%d\n", minor)
	return nil
}

func (s *Shell) closeAll() {
	for minor, f := range s.handles {
		if err := f.Release(); err != nil {
			s.logger.Warn("Could not release device ", minor, ", err=", err)
		}
		delete(s.handles, minor)
	}
}

func (s *Shell) write(ctx context.Context, wc *writeCmd) error {
	f, err := s.handle(wc.Minor)
	if err != nil {
		return trace.Wrap(err)
	}

	n, err := f.WriteAt(ctx, []byte(wc.Data), wc.Offset)
	if err != nil {
		return trace.Wrap(err)
	}
	fmt.Fprintf(s.out, "wrote %d of %d bytes\n", n, len(wc.Data))
	return nil
}

func (s *Shell) read(ctx context.Context, rc *readCmd) error {
	f, err := s.handle(rc.Minor)
	if err != nil {
		return trace.Wrap(err)
	}

	// a single read never returns more than one page
	st, err := s.svc.Stat(ctx, rc.Minor)
	if err != nil {
		return trace.Wrap(err)
	}
	size := rc.Count
	if size > st.Quantum {
		size = st.Quantum
	}

	buf := make([]byte, size)
	n, err := f.ReadAt(ctx, buf, rc.Offset)
	if err != nil {
		return trace.Wrap(err)
	}
	fmt.Fprintf(s.out, "read %d bytes: %q\n", n, buf[:n])
	return nil
}

func (s *Shell) dump(ctx context.Context, minor int) error {
	var data bytes.Buffer
	n, err := s.svc.Dump(ctx, minor, &data)
	if err != nil {
		return trace.Wrap(err)
	}
	fmt.Fprintf(s.out, "scull%d %s: %q\n", minor, humanize.IBytes(uint64(n)), data.Bytes())
	return nil
}

func (s *Shell) trim(ctx context.Context, minor int) error {
	if err := s.svc.Trim(ctx, minor); err != nil {
		return trace.Wrap(err)
	}
	fmt.Fprintf(s.out, "trimmed scull%d\n", minor)
	return nil
}

func (s *Shell) defaults(dc *defaultsCmd) error {
	g := qset.Geometry{Quantum: dc.Quantum, QSet: dc.QSet}
	if err := s.set.SetDefaults(g); err != nil {
		return trace.Wrap(err)
	}
	fmt.Fprintf(s.out, "defaults quantum=%d qset=%d\n", g.Quantum, g.QSet)
	return nil
}

func (s *Shell) stat(ctx context.Context, minors []int) error {
	if len(minors) == 0 {
		all, err := s.svc.DeviceList(ctx)
		if err != nil {
			return trace.Wrap(err)
		}
		minors = all
	}

	for _, minor := range minors {
		st, err := s.svc.Stat(ctx, minor)
		if err != nil {
			return trace.Wrap(err)
		}
		state := "closed"
		if f, ok := s.handles[minor]; ok {
			state = modeName(f.Flag())
		}
		fmt.Fprintf(s.out, "scull%d size=%s (%s bytes) quantum=%d qset=%d segments=%s pages=%s handle=%s\n",
			st.Minor, humanize.IBytes(uint64(st.Size)), humanize.Comma(st.Size),
			st.Quantum, st.QSet, humanize.Comma(st.Segments), humanize.Comma(int64(st.Pages)), state)
	}
	return nil
}

func (s *Shell) list(ctx context.Context) error {
	minors, err := s.svc.DeviceList(ctx)
	if err != nil {
		return trace.Wrap(err)
	}

	names := make([]string, len(minors))
	for i, minor := range minors {
		names[i] = fmt.Sprintf("scull%d", minor)
	}
	fmt.Fprintln(s.out, strings.Join(names, " "))
	return nil
}
