// Package mediainfo probes a container file with mkvmerge's identification
// mode and exposes the track layout the ingestion step needs to decide what
// encode/audio/subtitle tasks a media item requires.
package mediainfo

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Track is one entry of mkvmerge -J's "tracks" array, trimmed to the
// properties the pipeline inspects.
type Track struct {
	ID         int    `json:"id"`
	Type       string `json:"type"` // video, audio, subtitles
	Codec      string `json:"codec"`
	Properties struct {
		Language        string `json:"language"`
		TrackName       string `json:"track_name"`
		AudioChannels   int    `json:"audio_channels"`
		PixelDimensions string `json:"pixel_dimensions"`
		DefaultTrack    bool   `json:"default_track"`
		ForcedTrack     bool   `json:"forced_track"`
		TextSubtitles   bool   `json:"text_subtitles"`
	} `json:"properties"`
}

// Info is the parsed identification of one media file.
type Info struct {
	Path   string  `json:"-"`
	Tracks []Track `json:"tracks"`
}

// SubtitleTrack describes one extractable text subtitle track.
type SubtitleTrack struct {
	TrackID  int
	Name     string
	Language string
}

// AudioTrack describes one audio track and its channel count.
type AudioTrack struct {
	TrackID  int
	Name     string
	Language string
	Channels int
}

// Prober shells out to mkvmerge to identify a container file.
type Prober struct {
	mkvmergePath string
	timeout      time.Duration
}

// NewProber returns a Prober that invokes the given mkvmerge binary.
func NewProber(mkvmergePath string) *Prober {
	return &Prober{mkvmergePath: mkvmergePath, timeout: 30 * time.Second}
}

// WithTimeout overrides the default 30s identification timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// Probe runs "mkvmerge -J <path>" and parses the result.
func (p *Prober) Probe(ctx context.Context, path string) (*Info, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.mkvmergePath, "-J", path)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("mediainfo: probe timeout after %v for %s", p.timeout, path)
		}
		return nil, fmt.Errorf("mediainfo: mkvmerge -J %s: %w", path, err)
	}

	var info Info
	if err := json.Unmarshal(output, &info); err != nil {
		return nil, fmt.Errorf("mediainfo: parsing mkvmerge output for %s: %w", path, err)
	}
	if info.Tracks == nil {
		return nil, fmt.Errorf("mediainfo: %s: no tracks field in mkvmerge output", path)
	}
	info.Path = path
	return &info, nil
}

// Subtitles returns every extractable SubRip/SRT track, de-duplicating
// track names and language tags the way the reference implementation does
// so two same-language commentary tracks don't collide on extraction.
func (info *Info) Subtitles() []SubtitleTrack {
	var out []SubtitleTrack
	seenNames, seenLangs := map[string]bool{}, map[string]bool{}
	for _, tr := range info.Tracks {
		if tr.Codec != "SubRip/SRT" {
			continue
		}
		lang := tr.Properties.Language
		name := tr.Properties.TrackName
		if name == "" {
			name = lang
		}
		lang = uniqueName(lang, seenLangs)
		name = uniqueName(name, seenNames)
		out = append(out, SubtitleTrack{TrackID: tr.ID, Name: name, Language: lang})
	}
	return out
}

// AudioTracks returns every track mkvmerge reports a channel count for.
func (info *Info) AudioTracks() []AudioTrack {
	var out []AudioTrack
	for _, tr := range info.Tracks {
		if tr.Properties.AudioChannels <= 0 {
			continue
		}
		name := tr.Properties.TrackName
		if name == "" {
			name = "unnamed"
		}
		lang := tr.Properties.Language
		if lang == "" {
			lang = "unknown"
		}
		out = append(out, AudioTrack{
			TrackID:  tr.ID,
			Name:     name,
			Language: lang,
			Channels: tr.Properties.AudioChannels,
		})
	}
	return out
}

// VideoDimensions returns the pixel width/height of the first video track
// carrying a parseable pixel_dimensions property.
func (info *Info) VideoDimensions() (width, height int, err error) {
	for _, tr := range info.Tracks {
		dims := tr.Properties.PixelDimensions
		if dims == "" {
			continue
		}
		parts := strings.SplitN(dims, "x", 2)
		if len(parts) != 2 {
			continue
		}
		w, werr := strconv.Atoi(parts[0])
		h, herr := strconv.Atoi(parts[1])
		if werr != nil || herr != nil {
			continue
		}
		return w, h, nil
	}
	return 0, 0, fmt.Errorf("mediainfo: %s: no track reports pixel dimensions", info.Path)
}

// VideoDiagonal returns the diagonal resolution in pixels, from which the
// VP9 video encode task derives its CRF.
func (info *Info) VideoDiagonal() (float64, error) {
	w, h, err := info.VideoDimensions()
	if err != nil {
		return 0, err
	}
	return math.Hypot(float64(w), float64(h)), nil
}

func uniqueName(name string, seen map[string]bool) string {
	if !seen[name] {
		seen[name] = true
		return name
	}
	for idx := 1; ; idx++ {
		candidate := fmt.Sprintf("%s_%d", name, idx)
		if !seen[candidate] {
			seen[candidate] = true
			return candidate
		}
	}
}
