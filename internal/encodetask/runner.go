// Package encodetask implements the concrete taskgraph.Task adapters that
// actually shell out to ffmpeg/ffmpeg-normalize/mkvmerge/mkvextract: one
// media item's batch is built from these by internal/ingest.
package encodetask

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jmylchreest/recode/internal/ffmpeg"
	"github.com/jmylchreest/recode/internal/filelock"
	"github.com/jmylchreest/recode/internal/media"
	"github.com/jmylchreest/recode/internal/mediainfo"
	"github.com/jmylchreest/recode/internal/taskgraph"
	"github.com/jmylchreest/recode/internal/toolresolver"
)

// Base carries the fields every concrete task needs: where the source and
// destination live, how to resolve the tool binaries it shells out to, and
// the blocker names that gate it, mirroring EncoderTask's shared state in
// the reference implementation.
type Base struct {
	Descriptor *media.Descriptor
	Info       *mediainfo.Info
	Resolver   *toolresolver.Resolver
	Dest       string
	TmpDir     string
	StdoutBase string // empty disables log redirection

	Blockers []string
}

// SetResolver lets the Executor inject a freshly-built Resolver into an
// already-constructed task. Resolver is gob-encoded as part of Base (so a
// task can round-trip through LockedState), but Resolver.GobEncode writes
// no data: gob.Decode restores a zero-value Resolver (nil paths/envVars
// maps), which would silently fall back to bare-PATH lookup and drop every
// ffmpeg.*_path config/env override on --resume. Callers reading a
// Graph back from state must call SetResolver on every task before
// dispatching it; see scheduler.Executor.
func (b *Base) SetResolver(r *toolresolver.Resolver) { b.Resolver = r }

func (b *Base) stdoutPath(taskName string) string {
	if b.StdoutBase == "" {
		return ""
	}
	ext := filepath.Ext(b.StdoutBase)
	stem := strings.TrimSuffix(b.StdoutBase, ext)
	return fmt.Sprintf("%s-%s-%s%s", stem, strings.ToLower(taskName), b.Descriptor.UniqueName(), ext)
}

// tempFile reproduces make_tempfile's naming: "<prefix>-<unique-name>.<ext>".
func (b *Base) tempFile(tag, ext string) string {
	if ext == "" {
		ext = "mkv"
	}
	name := fmt.Sprintf("%s-%s.%s", tag, b.Descriptor.UniqueName(), ext)
	return filepath.Join(b.TmpDir, name)
}

// canRunAgainst implements the ordinary blocker check shared by every
// concrete task: blocked while any of the named blockers still appears
// (non-nil) in the batch.
func (b *Base) canRunAgainst(batchRemaining []taskgraph.Task) bool {
	if len(b.Blockers) == 0 {
		return true
	}
	blocked := make(map[string]bool, len(b.Blockers))
	for _, name := range b.Blockers {
		blocked[name] = true
	}
	for _, other := range batchRemaining {
		if other == nil {
			continue
		}
		if named, ok := other.(interface{ TaskName() string }); ok && blocked[named.TaskName()] {
			return false
		}
	}
	return true
}

// run execs cmd with FFMPEG_PATH/TMP/TEMP/TMPDIR exported, matching
// EncoderTask._run_command, and optionally appends stdout+stderr to a
// log file instead of discarding it. The log file is named after the
// executable cmd runs and the media item, not after the task, so tasks of
// one item that run the same tool append to the same file.
func (b *Base) run(cmd []string) error {
	if len(cmd) == 0 {
		return nil
	}
	ffmpegPath, err := b.Resolver.Resolve(toolresolver.FFmpeg)
	if err != nil {
		return fmt.Errorf("encodetask: %w", err)
	}

	c := exec.Command(cmd[0], cmd[1:]...)
	c.Env = append(os.Environ(),
		"FFMPEG_PATH="+ffmpegPath,
		"TMP="+b.TmpDir,
		"TEMP="+b.TmpDir,
		"TMPDIR="+b.TmpDir,
	)

	if logPath := b.stdoutPath(taskNameFromCmd(cmd)); logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return fmt.Errorf("encodetask: mkdir for log %s: %w", logPath, err)
		}
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("encodetask: open log %s: %w", logPath, err)
		}
		defer f.Close()
		c.Stdout = f
		c.Stderr = f
	}

	if err := c.Start(); err != nil {
		return fmt.Errorf("encodetask: transcoding failure running %s: %w", cmd[0], err)
	}

	monitor := ffmpeg.NewProcessMonitor(c.Process.Pid)
	monitor.Start()

	err = c.Wait()
	monitor.Stop()

	stats := monitor.Stats()
	slog.Debug("ffmpeg process finished",
		"cmd", cmd[0],
		"pid", stats.PID,
		"cpu_percent", stats.CPUPercent,
		"rss_bytes", stats.MemoryRSSBytes,
		"duration", stats.Duration,
	)

	if err != nil {
		return fmt.Errorf("encodetask: transcoding failure running %s: %w", cmd[0], err)
	}
	return nil
}

// resolvePathOrName resolves tool via r, falling back to its bare name so a
// --scriptize run still produces a usable (if PATH-dependent) script even
// when the tool isn't installed on the machine generating it.
func resolvePathOrName(r *toolresolver.Resolver, tool string) string {
	if path, err := r.Resolve(tool); err == nil {
		return path
	}
	return tool
}

func taskNameFromCmd(cmd []string) string {
	if len(cmd) == 0 {
		return "task"
	}
	return filepath.Base(cmd[0])
}

// scriptizeAppend appends cmd as a shell command line to this item's
// generated script, writing the bash/env header once, matching
// EncoderTask.scriptize.
func scriptizeAppend(scriptPath, taskName, tmpDir, ffmpegPath string, cmd []string, logPath string) error {
	if len(cmd) == 0 {
		return nil
	}
	lock := filelock.New(scriptPath + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("encodetask: scriptize lock: %w", err)
	}
	defer lock.Unlock()

	headerNeeded := true
	if _, err := os.Stat(scriptPath); err == nil {
		headerNeeded = false
	}

	if err := os.MkdirAll(filepath.Dir(scriptPath), 0o755); err != nil {
		return fmt.Errorf("encodetask: mkdir for script %s: %w", scriptPath, err)
	}
	f, err := os.OpenFile(scriptPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("encodetask: open script %s: %w", scriptPath, err)
	}
	defer f.Close()

	if headerNeeded {
		fmt.Fprintln(f, "#!/bin/bash")
		for _, v := range []string{"TMP", "TEMP", "TMPDIR"} {
			fmt.Fprintf(f, "export %s=%s\n", v, shellQuote(tmpDir))
			fmt.Fprintf(f, "mkdir -p %s\n", shellQuote(tmpDir))
		}
		fmt.Fprintf(f, "export FFMPEG_PATH=%s\n\n", shellQuote(ffmpegPath))
	}
	fmt.Fprintf(f, "# %s\n", taskName)
	if logPath != "" {
		fmt.Fprintf(f, "mkdir -p %s\n", shellQuote(filepath.Dir(logPath)))
	}
	fmt.Fprint(f, shellJoin(cmd))
	if logPath != "" {
		fmt.Fprintf(f, " >> %s 2>&1", shellQuote(logPath))
	}
	fmt.Fprintln(f)

	info, err := os.Stat(scriptPath)
	if err != nil {
		return err
	}
	return os.Chmod(scriptPath, info.Mode()|0o111)
}

func shellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r == '-' || r == '_' || r == '.' || r == '/' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func itoa(n int) string { return strconv.Itoa(n) }
