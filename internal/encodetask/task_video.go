package encodetask

import (
	"fmt"
	"math"

	"github.com/jmylchreest/recode/internal/media"
	"github.com/jmylchreest/recode/internal/taskgraph"
)

// VideoPass identifies which encoding pass a VideoEncodeTask performs.
type VideoPass int

const (
	// PassSingle is used by one-shot (HEVC CRF) profiles.
	PassSingle VideoPass = iota
	PassFirst
	PassSecond
)

// vp9Tuning carries the reverse-engineered CRF-from-resolution constants the
// reference VP9CRFEncoder derived empirically; kept as package constants
// since no profile overrides them.
const (
	vp9CRFProp    = 76.61285454891394
	vp9CRFPow     = -0.11754124960465037
	vp9CRF1080p   = 31.0
	vp9QMaxCoeff  = 5.0 / 4.0
	vp9Pass1Limit = 5
	vp9Pass2Limit = 4
)

// VideoEncodeTask runs one ffmpeg video-only encode pass: either the VP9
// two-pass pipeline (Pass == PassFirst/PassSecond) or a single HEVC CRF pass
// (Pass == PassSingle). Only the earliest not-yet-finished video pass in a
// batch is ever runnable, matching VideoEncodeTask.can_run in the reference:
// passes within one batch are strictly sequential regardless of resource
// availability.
type VideoEncodeTask struct {
	Base
	Pass VideoPass
}

func NewVideoEncodeTask(b Base, pass VideoPass) *VideoEncodeTask {
	b.Blockers = append([]string{"RemoveScript"}, b.Blockers...)
	return &VideoEncodeTask{Base: b, Pass: pass}
}

func (t *VideoEncodeTask) ResourceClaim() taskgraph.Resource {
	if t.Pass == PassFirst {
		return taskgraph.Resource{Kind: taskgraph.ResourceCPU, Priority: 1}
	}
	return taskgraph.Resource{Kind: taskgraph.ResourceCPU, Priority: 0}
}

// GetLimit reproduces Vp9CrfEncode1PassTask.get_limit's lookahead: pass 1's
// ceiling grows to keep pass 2 fed, since pass 2 entries only exist once
// their matching pass 1 has finished and every batch needs both.
func (t *VideoEncodeTask) GetLimit(candidates, running []taskgraph.Task) int {
	switch t.Pass {
	case PassFirst:
		pass2Count := 0
		for _, c := range candidates {
			if vt, ok := c.(*VideoEncodeTask); ok && vt.Pass == PassSecond {
				pass2Count++
			}
		}
		needLookahead := vp9Pass2Limit - pass2Count
		if needLookahead < 0 {
			needLookahead = 0
		}
		limit := vp9Pass2Limit + needLookahead
		if limit > vp9Pass1Limit {
			limit = vp9Pass1Limit
		}
		return limit
	case PassSecond:
		return vp9Pass2Limit
	default:
		return 4 // HEVC single-pass profiles have no pass-2 to feed ahead of
	}
}

// CanRun enforces that passes run strictly in order: pass 2 cannot start
// until pass 1 (the earliest VideoEncodeTask in the batch) has finished.
func (t *VideoEncodeTask) CanRun(batchRemaining []taskgraph.Task) bool {
	if !t.canRunAgainst(batchRemaining) {
		return false
	}
	for _, other := range batchRemaining {
		if other == nil {
			continue
		}
		if vt, ok := other.(*VideoEncodeTask); ok {
			return vt == t
		}
	}
	return true
}

func (t *VideoEncodeTask) DoScript() bool { return true }

func (t *VideoEncodeTask) TaskName() string {
	switch t.Pass {
	case PassFirst:
		return "VideoEncodePass1"
	case PassSecond:
		return "VideoEncodePass2"
	default:
		return "VideoEncode"
	}
}

func (t *VideoEncodeTask) String() string {
	return fmt.Sprintf("%s (%s)", t.TaskName(), t.Descriptor.FriendlyName())
}

func (t *VideoEncodeTask) Output() string {
	return t.tempFile("video-pass", "mkv")
}

func (t *VideoEncodeTask) passLogFile() string {
	return t.tempFile("ffmpeg2pass", "log")
}

func (t *VideoEncodeTask) command() []string {
	diag, _ := t.Info.VideoDiagonal()
	if diag == 0 {
		diag = 1080 // degrade gracefully; Run will still fail loudly via ffmpeg if src truly has no video track
	}

	var crf, qmax float64
	var speed int
	var passno int

	isHEVC := t.Descriptor.Kind == media.KindHQMovie || t.Descriptor.Kind == media.KindLQMovie
	if !isHEVC {
		crf = vp9CRFProp * math.Pow(diag, vp9CRFPow) * float64(t.Descriptor.Webm.Target1080CRF) / vp9CRF1080p
		qmax = crf * vp9QMaxCoeff
		if t.Pass == PassFirst {
			speed = t.Descriptor.Webm.SpeedFirst
			passno = 1
		} else {
			speed = t.Descriptor.Webm.SpeedSecond
			passno = 2
		}
		cmd := []string{
			"ffmpeg", "-i", t.Descriptor.Src,
			"-g", "240", "-movflags", "+faststart", "-map", "0:v",
			"-c:v", "libvpx-vp9", "-an",
			"-crf", itoa(int(crf)), "-qmax", itoa(int(qmax)), "-b:v", "0",
			"-quality", "good", "-speed", itoa(speed), "-pass", itoa(passno),
			"-passlogfile", t.passLogFile(), "-y", t.Output(),
		}
		return cmd
	}

	// HEVC single-pass CRF (hqmovie/lqmovie).
	cmd := []string{
		"ffmpeg", "-i", t.Descriptor.Src,
		"-movflags", "+faststart", "-map", "0:v",
		"-c:v", "libx265", "-an", "-preset", t.Descriptor.Mkv.Preset,
		"-crf", itoa(t.Descriptor.Mkv.CRF),
	}
	if t.Descriptor.Mkv.ScaleDown > 0 {
		cmd = append(cmd, "-vf", fmt.Sprintf("scale=-2:%d", t.Descriptor.Mkv.ScaleDown))
	}
	cmd = append(cmd, "-y", t.Output())
	return cmd
}

func (t *VideoEncodeTask) Run() error { return t.run(t.command()) }

func (t *VideoEncodeTask) Scriptize() error {
	ffmpegPath := resolvePathOrName(t.Resolver, "ffmpeg")
	return scriptizeAppend(t.Descriptor.TargetScriptPath(t.Dest), t.TaskName(), t.TmpDir, ffmpegPath, t.command(), t.stdoutPath(t.TaskName()))
}

func (t *VideoEncodeTask) Equal(other taskgraph.Task) bool {
	o, ok := other.(*VideoEncodeTask)
	return ok && o.Pass == t.Pass && o.Descriptor.FriendlyName() == t.Descriptor.FriendlyName()
}
