// Package ingest turns a source file path plus destination into one
// taskgraph.Batch: identify the media item, probe its track layout, run
// interactive track selection when asked, then build the task list for the
// selected encode profile. It mirrors main.py's per-file setup loop plus
// BaseEncoder._make_tasks in the reference implementation.
package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/recode/internal/encodetask"
	"github.com/jmylchreest/recode/internal/media"
	"github.com/jmylchreest/recode/internal/mediainfo"
	"github.com/jmylchreest/recode/internal/state"
	"github.com/jmylchreest/recode/internal/taskgraph"
	"github.com/jmylchreest/recode/internal/toolresolver"
)

// Options carries the ingestion-wide settings shared by every source file in
// one invocation, equivalent to the CLI flags main.py threads through to
// every MediaEntry/BaseEncoder it constructs.
type Options struct {
	Dest        string
	StdoutBase  string // --log; empty disables per-task log files
	TmpDir      string
	Interactive bool
	ForceType   media.Kind // empty = infer from filename
	ForceName   string     // --force-params name= override

	Resolver *toolresolver.Resolver
	Prober   *mediainfo.Prober
}

// Identify derives a media.Descriptor from a source path, honoring an
// explicit ForceType override and falling back to series/movie name
// inference, matching main.py's FORCE_NAME / filename-sniffing dispatch.
func Identify(src string, opts Options) (*media.Descriptor, error) {
	fname := filepath.Base(src)

	kind := opts.ForceType
	if kind == "" {
		if d, err := media.ParseSeries(fname, src); err == nil {
			return d, nil
		}
		kind = media.KindMovie
	}

	if kind == media.KindSeries {
		if d, err := media.ParseSeries(fname, src); err == nil {
			return d, nil
		}
		d, err := media.ParseSeriesLoose(fname, src)
		if err != nil {
			return nil, fmt.Errorf("ingest: %s: %w", src, err)
		}
		return d, nil
	}

	name := opts.ForceName
	if name == "" {
		name = strings.TrimSuffix(fname, filepath.Ext(fname))
	}
	return media.NewMovie(kind, name, src), nil
}

// BuildBatch identifies src, probes it, optionally runs interactive audio
// track selection, and returns the complete task batch for it.
func BuildBatch(ctx context.Context, src string, opts Options) (taskgraph.Batch, error) {
	descriptor, err := Identify(src, opts)
	if err != nil {
		return nil, err
	}

	info, err := opts.Prober.Probe(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("ingest: probing %s: %w", src, err)
	}

	if opts.Interactive {
		ignored, err := media.SelectAudioTracks(descriptor.FriendlyName(), info.AudioTracks())
		if err != nil {
			return nil, fmt.Errorf("ingest: %s: %w", src, err)
		}
		descriptor.IgnoredAudioTracks = ignored
	}

	return buildBatch(descriptor, info, opts), nil
}

func buildBatch(d *media.Descriptor, info *mediainfo.Info, opts Options) taskgraph.Batch {
	b := func(blockers ...string) encodetask.Base {
		return encodetask.Base{
			Descriptor: d,
			Info:       info,
			Resolver:   opts.Resolver,
			Dest:       opts.Dest,
			TmpDir:     opts.TmpDir,
			StdoutBase: opts.StdoutBase,
			Blockers:   blockers,
		}
	}

	var batch taskgraph.Batch
	removeScript := &encodetask.RemoveScriptTask{Descriptor: d, Dest: opts.Dest}
	batch = append(batch, removeScript)

	var videoOutputs []string
	var lastVideoTaskName string
	switch d.Kind {
	case media.KindHQMovie, media.KindLQMovie:
		single := encodetask.NewVideoEncodeTask(b(), encodetask.PassSingle)
		batch = append(batch, single)
		videoOutputs = []string{single.Output()}
		lastVideoTaskName = single.TaskName()
	default:
		pass1 := encodetask.NewVideoEncodeTask(b(), encodetask.PassFirst)
		pass2 := encodetask.NewVideoEncodeTask(b(), encodetask.PassSecond)
		batch = append(batch, pass1, pass2)
		videoOutputs = []string{pass2.Output()}
		lastVideoTaskName = pass2.TaskName()
	}

	keepOriginalAudio := d.Kind != media.KindYTLike
	var audioOutputs []string
	var audioBlockers []string
	var tempFiles []string
	tempFiles = append(tempFiles, videoOutputs...)

	for _, tr := range info.AudioTracks() {
		if d.IgnoredAudioTracks[tr.TrackID] {
			continue
		}

		var sourceTaskName, sourcePath string
		if tr.Channels <= 2 {
			extract := encodetask.NewExtractStereoAudioTask(b(), tr.TrackID)
			batch = append(batch, extract)
			sourceTaskName, sourcePath = extract.TaskName(), extract.Output()
			tempFiles = append(tempFiles, sourcePath)
		} else {
			downmix := encodetask.NewDownmixToStereoTask(b(), tr.TrackID)
			batch = append(batch, downmix)
			sourceTaskName, sourcePath = downmix.TaskName(), downmix.Output()
			tempFiles = append(tempFiles, sourcePath)

			if keepOriginalAudio {
				encode := encodetask.NewAudioEncodeTask(b(), tr.TrackID, "libvorbis", "", nil)
				batch = append(batch, encode)
				audioOutputs = append(audioOutputs, encode.Output())
				audioBlockers = append(audioBlockers, encode.TaskName())
				tempFiles = append(tempFiles, encode.Output())
			}
		}

		norm := encodetask.NewNormalizeStereoTask(b(), tr.TrackID, sourceTaskName, sourcePath, "libvorbis", "", []string{"-aq", "5"})
		batch = append(batch, norm)
		audioOutputs = append(audioOutputs, norm.Output())
		audioBlockers = append(audioBlockers, norm.TaskName())
		tempFiles = append(tempFiles, norm.Output())
	}

	remuxBlockers := append([]string{lastVideoTaskName}, audioBlockers...)
	remux := encodetask.NewRemuxTask(b(), videoOutputs, audioOutputs, remuxBlockers...)
	batch = append(batch, remux)

	if d.Kind != media.KindYTLike {
		batch = append(batch, encodetask.NewExtractSubtitlesTask(b()))
	}

	batch = append(batch, encodetask.NewCleanupTask(b(), remux.TaskName(), tempFiles))

	return batch
}

// AppendBatches reads the current graph under lock, appends newBatches, and
// writes the result back, creating the state file on first use. This is the
// "ingestion step (external)" read-modify-write spec.md §2 describes.
func AppendBatches(st *state.LockedState, newBatches []taskgraph.Batch) error {
	if err := st.Lock(); err != nil {
		return fmt.Errorf("ingest: lock state: %w", err)
	}
	defer st.Unlock()

	g, err := st.Read()
	if err != nil {
		g = nil // first run: no state file yet
	}
	g = append(g, newBatches...)
	if err := st.Write(g); err != nil {
		return fmt.Errorf("ingest: write state: %w", err)
	}
	return nil
}
