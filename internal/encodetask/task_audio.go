package encodetask

import (
	"fmt"

	"github.com/jmylchreest/recode/internal/taskgraph"
)

// audioBase carries the track index every audio task operates on, mirroring
// AudioBaseTask's track_id.
type audioBase struct {
	Base
	TrackID int
}

func (a *audioBase) taskNameSuffix(kind string) string {
	return fmt.Sprintf("%s-track=%d", kind, a.TrackID)
}

// ExtractStereoAudioTask copies an already-stereo-or-mono track out losslessly
// for downstream normalization/remuxing.
type ExtractStereoAudioTask struct {
	audioBase
}

func NewExtractStereoAudioTask(b Base, trackID int) *ExtractStereoAudioTask {
	b.Blockers = []string{"RemoveScript"}
	return &ExtractStereoAudioTask{audioBase{Base: b, TrackID: trackID}}
}

func (t *ExtractStereoAudioTask) ResourceClaim() taskgraph.Resource {
	return taskgraph.Resource{Kind: taskgraph.ResourceIO, Priority: 1}
}
func (t *ExtractStereoAudioTask) GetLimit(candidates, running []taskgraph.Task) int { return 2 }
func (t *ExtractStereoAudioTask) CanRun(batchRemaining []taskgraph.Task) bool {
	return t.canRunAgainst(batchRemaining)
}
func (t *ExtractStereoAudioTask) DoScript() bool    { return true }
func (t *ExtractStereoAudioTask) TaskName() string  { return t.taskNameSuffix("ExtractStereoAudio") }
func (t *ExtractStereoAudioTask) String() string {
	return fmt.Sprintf("%s (%s)", t.TaskName(), t.Descriptor.FriendlyName())
}
func (t *ExtractStereoAudioTask) Output() string {
	return t.tempFile(fmt.Sprintf("audio-%d-2ch", t.TrackID), "mka")
}
func (t *ExtractStereoAudioTask) command() []string {
	return []string{"ffmpeg", "-i", t.Descriptor.Src,
		"-map", fmt.Sprintf("0:%d:0", t.TrackID), "-c:a", "copy", "-vn",
		"-y", t.Output()}
}
func (t *ExtractStereoAudioTask) Run() error { return t.run(t.command()) }
func (t *ExtractStereoAudioTask) Scriptize() error {
	ffmpegPath := resolvePathOrName(t.Resolver, "ffmpeg")
	return scriptizeAppend(t.Descriptor.TargetScriptPath(t.Dest), t.TaskName(), t.TmpDir, ffmpegPath, t.command(), t.stdoutPath(t.TaskName()))
}
func (t *ExtractStereoAudioTask) Equal(other taskgraph.Task) bool {
	o, ok := other.(*ExtractStereoAudioTask)
	return ok && o.TrackID == t.TrackID && o.Descriptor.FriendlyName() == t.Descriptor.FriendlyName()
}

// DownmixToStereoTask folds a >2-channel track down to stereo with ffmpeg's
// pan filter so every track has a normalized-stereo counterpart, even when
// the original mix is 5.1 or similar.
type DownmixToStereoTask struct {
	audioBase
}

func NewDownmixToStereoTask(b Base, trackID int) *DownmixToStereoTask {
	b.Blockers = []string{"RemoveScript"}
	return &DownmixToStereoTask{audioBase{Base: b, TrackID: trackID}}
}

func (t *DownmixToStereoTask) ResourceClaim() taskgraph.Resource {
	return taskgraph.Resource{Kind: taskgraph.ResourceCPU, Priority: 2}
}
func (t *DownmixToStereoTask) GetLimit(candidates, running []taskgraph.Task) int { return 6 }
func (t *DownmixToStereoTask) CanRun(batchRemaining []taskgraph.Task) bool {
	return t.canRunAgainst(batchRemaining)
}
func (t *DownmixToStereoTask) DoScript() bool   { return true }
func (t *DownmixToStereoTask) TaskName() string { return t.taskNameSuffix("DownmixToStereo") }
func (t *DownmixToStereoTask) String() string {
	return fmt.Sprintf("%s (%s)", t.TaskName(), t.Descriptor.FriendlyName())
}
func (t *DownmixToStereoTask) Output() string {
	return t.tempFile(fmt.Sprintf("audio-%d-2ch", t.TrackID), "mka")
}
func (t *DownmixToStereoTask) command() []string {
	return []string{"ffmpeg", "-i", t.Descriptor.Src,
		"-map", fmt.Sprintf("0:%d:0", t.TrackID), "-c:a", "aac", "-b:a", "512k",
		"-ac", "2", "-af", "pan=stereo|FL < 1.0*FL + 0.707*FC + 0.707*BL|FR < 1.0*FR + 0.707*FC + 0.707*BR",
		"-vn", "-y", t.Output()}
}
func (t *DownmixToStereoTask) Run() error { return t.run(t.command()) }
func (t *DownmixToStereoTask) Scriptize() error {
	ffmpegPath := resolvePathOrName(t.Resolver, "ffmpeg")
	return scriptizeAppend(t.Descriptor.TargetScriptPath(t.Dest), t.TaskName(), t.TmpDir, ffmpegPath, t.command(), t.stdoutPath(t.TaskName()))
}
func (t *DownmixToStereoTask) Equal(other taskgraph.Task) bool {
	o, ok := other.(*DownmixToStereoTask)
	return ok && o.TrackID == t.TrackID && o.Descriptor.FriendlyName() == t.Descriptor.FriendlyName()
}

// NormalizeStereoTask runs ffmpeg-normalize (EBU R128, dual-mono) over a
// stereo source produced by either extract or downmix, re-encoding with the
// profile's audio codec in the process.
type NormalizeStereoTask struct {
	audioBase
	Source       string // produced_files[0] of the parent extract/downmix task
	CodecName    string
	CodecBitrate string // empty when the codec doesn't take a bitrate (e.g. "-aq" VBR codecs)
	CodecExtra   []string
}

func NewNormalizeStereoTask(b Base, trackID int, parentTaskName, source, codec, bitrate string, extra []string) *NormalizeStereoTask {
	b.Blockers = []string{"RemoveScript", parentTaskName}
	return &NormalizeStereoTask{
		audioBase:    audioBase{Base: b, TrackID: trackID},
		Source:       source,
		CodecName:    codec,
		CodecBitrate: bitrate,
		CodecExtra:   extra,
	}
}

func (t *NormalizeStereoTask) ResourceClaim() taskgraph.Resource {
	return taskgraph.Resource{Kind: taskgraph.ResourceCPU, Priority: 2}
}
func (t *NormalizeStereoTask) GetLimit(candidates, running []taskgraph.Task) int { return 6 }
func (t *NormalizeStereoTask) CanRun(batchRemaining []taskgraph.Task) bool {
	return t.canRunAgainst(batchRemaining)
}
func (t *NormalizeStereoTask) DoScript() bool   { return true }
func (t *NormalizeStereoTask) TaskName() string { return t.taskNameSuffix("NormalizeStereo") }
func (t *NormalizeStereoTask) String() string {
	return fmt.Sprintf("%s (%s)", t.TaskName(), t.Descriptor.FriendlyName())
}
func (t *NormalizeStereoTask) Output() string {
	return t.tempFile(fmt.Sprintf("audio-%d-2ch-norm", t.TrackID), "mka")
}
func (t *NormalizeStereoTask) command() []string {
	cmd := []string{"ffmpeg-normalize", t.Source, "-c:a", t.CodecName}
	if t.CodecBitrate != "" {
		cmd = append(cmd, "-b:a", t.CodecBitrate)
	}
	if len(t.CodecExtra) > 0 {
		cmd = append(cmd, "-e="+shellJoin(t.CodecExtra))
	}
	cmd = append(cmd, "--dual-mono", "-t", "-14", "-f", "-ar", "48000", "-pr", "-vn", "-o", t.Output())
	return cmd
}
func (t *NormalizeStereoTask) Run() error { return t.run(t.command()) }
func (t *NormalizeStereoTask) Scriptize() error {
	ffmpegPath := resolvePathOrName(t.Resolver, "ffmpeg")
	return scriptizeAppend(t.Descriptor.TargetScriptPath(t.Dest), t.TaskName(), t.TmpDir, ffmpegPath, t.command(), t.stdoutPath(t.TaskName()))
}
func (t *NormalizeStereoTask) Equal(other taskgraph.Task) bool {
	o, ok := other.(*NormalizeStereoTask)
	return ok && o.TrackID == t.TrackID && o.Descriptor.FriendlyName() == t.Descriptor.FriendlyName()
}

// AudioEncodeTask re-encodes a non-stereo track in place (no normalization),
// used to keep e.g. a 5.1 track in the output alongside its normalized-stereo
// counterpart.
type AudioEncodeTask struct {
	audioBase
	CodecName    string
	CodecBitrate string
	CodecExtra   []string
}

func NewAudioEncodeTask(b Base, trackID int, codec, bitrate string, extra []string) *AudioEncodeTask {
	b.Blockers = []string{"RemoveScript"}
	return &AudioEncodeTask{audioBase: audioBase{Base: b, TrackID: trackID}, CodecName: codec, CodecBitrate: bitrate, CodecExtra: extra}
}

func (t *AudioEncodeTask) ResourceClaim() taskgraph.Resource {
	return taskgraph.Resource{Kind: taskgraph.ResourceCPU, Priority: 2}
}
func (t *AudioEncodeTask) GetLimit(candidates, running []taskgraph.Task) int { return 6 }
func (t *AudioEncodeTask) CanRun(batchRemaining []taskgraph.Task) bool {
	return t.canRunAgainst(batchRemaining)
}
func (t *AudioEncodeTask) DoScript() bool   { return true }
func (t *AudioEncodeTask) TaskName() string { return t.taskNameSuffix("AudioEncode") }
func (t *AudioEncodeTask) String() string {
	return fmt.Sprintf("%s (%s)", t.TaskName(), t.Descriptor.FriendlyName())
}
func (t *AudioEncodeTask) Output() string {
	return t.tempFile(fmt.Sprintf("audio-%d", t.TrackID), "mka")
}
func (t *AudioEncodeTask) command() []string {
	cmd := []string{"ffmpeg", "-i", t.Descriptor.Src, "-map", fmt.Sprintf("0:%d:0", t.TrackID), "-vn", "-c:a", t.CodecName}
	if t.CodecBitrate != "" {
		cmd = append(cmd, "-b:a", t.CodecBitrate)
	}
	cmd = append(cmd, t.CodecExtra...)
	cmd = append(cmd, "-y", t.Output())
	return cmd
}
func (t *AudioEncodeTask) Run() error { return t.run(t.command()) }
func (t *AudioEncodeTask) Scriptize() error {
	ffmpegPath := resolvePathOrName(t.Resolver, "ffmpeg")
	return scriptizeAppend(t.Descriptor.TargetScriptPath(t.Dest), t.TaskName(), t.TmpDir, ffmpegPath, t.command(), t.stdoutPath(t.TaskName()))
}
func (t *AudioEncodeTask) Equal(other taskgraph.Task) bool {
	o, ok := other.(*AudioEncodeTask)
	return ok && o.TrackID == t.TrackID && o.Descriptor.FriendlyName() == t.Descriptor.FriendlyName()
}
