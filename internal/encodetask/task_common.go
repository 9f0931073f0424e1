package encodetask

import (
	"fmt"
	"os"

	"github.com/jmylchreest/recode/internal/media"
	"github.com/jmylchreest/recode/internal/taskgraph"
	"github.com/jmylchreest/recode/internal/toolresolver"
)

// RemoveScriptTask deletes a previous run's script before new commands are
// appended to it, so resuming a run never mixes two script generations
// together; Scriptize does the same removal, so it also happens under
// --scriptize. It is an implicit blocker of every other task in the batch
// (EncoderTask.BLOCKERS in the reference gains RemoveScriptTask
// unconditionally): every other task kind's constructor puts
// "RemoveScript" first in its Blockers.
type RemoveScriptTask struct {
	Descriptor *media.Descriptor
	Dest       string
}

func (t *RemoveScriptTask) ResourceClaim() taskgraph.Resource {
	return taskgraph.Resource{Kind: taskgraph.ResourceIO, Priority: 0}
}
func (t *RemoveScriptTask) GetLimit(candidates, running []taskgraph.Task) int { return 30 }
func (t *RemoveScriptTask) CanRun(batchRemaining []taskgraph.Task) bool       { return true }
func (t *RemoveScriptTask) DoScript() bool                                   { return true }
func (t *RemoveScriptTask) TaskName() string                                 { return "RemoveScript" }
func (t *RemoveScriptTask) String() string {
	return fmt.Sprintf("%s (%s)", t.TaskName(), t.Descriptor.FriendlyName())
}
func (t *RemoveScriptTask) Run() error {
	err := os.Remove(t.Descriptor.TargetScriptPath(t.Dest))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("encodetask: remove script: %w", err)
	}
	return nil
}
func (t *RemoveScriptTask) Scriptize() error {
	return t.Run()
}
func (t *RemoveScriptTask) Equal(other taskgraph.Task) bool {
	o, ok := other.(*RemoveScriptTask)
	return ok && o.Dest == t.Dest && o.Descriptor.FriendlyName() == t.Descriptor.FriendlyName()
}

// RemuxTask muxes the encoded video and audio elementary streams (plus
// chapters/metadata copied from the source) into the final container.
type RemuxTask struct {
	Base
	VideoInputs []string
	AudioInputs []string
}

func NewRemuxTask(b Base, videoInputs, audioInputs []string, blockers ...string) *RemuxTask {
	b.Blockers = append([]string{"RemoveScript"}, blockers...)
	return &RemuxTask{Base: b, VideoInputs: videoInputs, AudioInputs: audioInputs}
}

func (t *RemuxTask) ResourceClaim() taskgraph.Resource {
	return taskgraph.Resource{Kind: taskgraph.ResourceIO, Priority: 0}
}
func (t *RemuxTask) GetLimit(candidates, running []taskgraph.Task) int { return 1 }
func (t *RemuxTask) CanRun(batchRemaining []taskgraph.Task) bool       { return t.canRunAgainst(batchRemaining) }
func (t *RemuxTask) DoScript() bool                                    { return true }
func (t *RemuxTask) TaskName() string                                  { return "Remux" }
func (t *RemuxTask) String() string {
	return fmt.Sprintf("%s (%s)", t.TaskName(), t.Descriptor.FriendlyName())
}
func (t *RemuxTask) Output() string { return t.Descriptor.TargetVideoPath(t.Dest, "") }

func (t *RemuxTask) command() []string {
	cmd := []string{"ffmpeg"}
	for _, in := range t.VideoInputs {
		cmd = append(cmd, "-i", in)
	}
	for _, in := range t.AudioInputs {
		cmd = append(cmd, "-i", in)
	}
	cmd = append(cmd, "-movflags", "+faststart")
	for i := range t.VideoInputs {
		cmd = append(cmd, "-map", fmt.Sprintf("%d:v", i))
	}
	for i := len(t.VideoInputs); i < len(t.VideoInputs)+len(t.AudioInputs); i++ {
		cmd = append(cmd, "-map", fmt.Sprintf("%d:a", i))
	}
	idx := itoa(len(t.VideoInputs) + len(t.AudioInputs))
	cmd = append(cmd, "-i", t.Descriptor.Src, "-map_chapters", idx, "-map_metadata", idx)
	cmd = append(cmd, "-c", "copy", "-y", t.Output())
	return cmd
}

func (t *RemuxTask) Run() error {
	if err := os.MkdirAll(dirOf(t.Output()), 0o755); err != nil {
		return err
	}
	return t.run(t.command())
}

func (t *RemuxTask) Scriptize() error {
	ffmpegPath := resolvePathOrName(t.Resolver, toolresolver.FFmpeg)
	return scriptizeAppend(t.Descriptor.TargetScriptPath(t.Dest), t.TaskName(), t.TmpDir, ffmpegPath, t.command(), t.stdoutPath(t.TaskName()))
}

func (t *RemuxTask) Equal(other taskgraph.Task) bool {
	o, ok := other.(*RemuxTask)
	return ok && o.Descriptor.FriendlyName() == t.Descriptor.FriendlyName() && o.Dest == t.Dest
}

// ExtractSubtitlesTask pulls every SubRip/SRT track into its own .srt file.
type ExtractSubtitlesTask struct {
	Base
}

func NewExtractSubtitlesTask(b Base) *ExtractSubtitlesTask {
	b.Blockers = []string{"RemoveScript"}
	return &ExtractSubtitlesTask{Base: b}
}

func (t *ExtractSubtitlesTask) ResourceClaim() taskgraph.Resource {
	return taskgraph.Resource{Kind: taskgraph.ResourceIO, Priority: 1}
}
func (t *ExtractSubtitlesTask) GetLimit(candidates, running []taskgraph.Task) int { return 2 }
func (t *ExtractSubtitlesTask) CanRun(batchRemaining []taskgraph.Task) bool {
	return t.canRunAgainst(batchRemaining)
}
func (t *ExtractSubtitlesTask) DoScript() bool { return true }
func (t *ExtractSubtitlesTask) TaskName() string { return "ExtractSubtitles" }
func (t *ExtractSubtitlesTask) String() string {
	return fmt.Sprintf("%s (%s)", t.TaskName(), t.Descriptor.FriendlyName())
}

func (t *ExtractSubtitlesTask) command() []string {
	subs := t.Info.Subtitles()
	if len(subs) == 0 {
		return nil
	}
	cmd := []string{"mkvextract", "tracks", t.Descriptor.Src}
	for _, sub := range subs {
		path := t.Descriptor.TargetSubtitlesPath(t.Dest, sub.Language)
		os.MkdirAll(dirOf(path), 0o755)
		cmd = append(cmd, fmt.Sprintf("%d:%s", sub.TrackID, path))
	}
	return cmd
}

func (t *ExtractSubtitlesTask) Run() error {
	cmd := t.command()
	if len(cmd) == 0 {
		return nil
	}
	path, err := t.Resolver.Resolve(toolresolver.Mkvextract)
	if err != nil {
		return fmt.Errorf("encodetask: %w", err)
	}
	cmd[0] = path
	return t.run(cmd)
}

func (t *ExtractSubtitlesTask) Scriptize() error {
	cmd := t.command()
	if len(cmd) == 0 {
		return nil
	}
	cmd[0] = resolvePathOrName(t.Resolver, toolresolver.Mkvextract)
	ffmpegPath := resolvePathOrName(t.Resolver, toolresolver.FFmpeg)
	return scriptizeAppend(t.Descriptor.TargetScriptPath(t.Dest), t.TaskName(), t.TmpDir, ffmpegPath, cmd, t.stdoutPath(t.TaskName()))
}

func (t *ExtractSubtitlesTask) Equal(other taskgraph.Task) bool {
	o, ok := other.(*ExtractSubtitlesTask)
	return ok && o.Descriptor.FriendlyName() == t.Descriptor.FriendlyName()
}

// CleanupTask removes every temp file produced earlier in the batch, once
// the final Remux has consumed them.
type CleanupTask struct {
	Base
	Files []string
}

func NewCleanupTask(b Base, remuxTaskName string, files []string) *CleanupTask {
	b.Blockers = []string{"RemoveScript", remuxTaskName}
	return &CleanupTask{Base: b, Files: files}
}

func (t *CleanupTask) ResourceClaim() taskgraph.Resource {
	return taskgraph.Resource{Kind: taskgraph.ResourceIO, Priority: 2}
}
func (t *CleanupTask) GetLimit(candidates, running []taskgraph.Task) int { return 10 }
func (t *CleanupTask) CanRun(batchRemaining []taskgraph.Task) bool       { return t.canRunAgainst(batchRemaining) }
func (t *CleanupTask) DoScript() bool                                   { return true }
func (t *CleanupTask) TaskName() string                                 { return "Cleanup" }
func (t *CleanupTask) String() string {
	return fmt.Sprintf("%s (%s)", t.TaskName(), t.Descriptor.FriendlyName())
}
func (t *CleanupTask) Run() error {
	for _, f := range t.Files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("encodetask: cleanup %s: %w", f, err)
		}
	}
	return nil
}
func (t *CleanupTask) Scriptize() error {
	if len(t.Files) == 0 {
		return nil
	}
	cmd := append([]string{"rm", "-f"}, t.Files...)
	ffmpegPath := resolvePathOrName(t.Resolver, toolresolver.FFmpeg)
	return scriptizeAppend(t.Descriptor.TargetScriptPath(t.Dest), t.TaskName(), t.TmpDir, ffmpegPath, cmd, "")
}
func (t *CleanupTask) Equal(other taskgraph.Task) bool {
	o, ok := other.(*CleanupTask)
	return ok && o.Descriptor.FriendlyName() == t.Descriptor.FriendlyName()
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
