// Package media identifies a source file (a movie or a series episode) from
// its filename, and derives the target paths and encode options an
// encodetask pipeline needs, mirroring the reference implementation's
// MediaEntry/BaseMovie/SeriesEpisode hierarchy with a single descriptor type
// parameterized by Kind instead of a Python class per profile.
package media

import (
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Kind selects which encode profile and container a Descriptor targets.
// Each corresponds to one FORCE_NAME in the reference parser table.
type Kind string

const (
	KindMovie   Kind = "movie"   // WebM VP9 CRF, the default profile
	KindHQMovie Kind = "hqmovie" // MKV HEVC CRF, high quality
	KindLQMovie Kind = "lqmovie" // MKV HEVC CRF, reduced size/quality
	KindYTLike  Kind = "ytlike"  // WebM VP9 CRF tuned for upload, no subs/extra audio
	KindSeries  Kind = "series"
)

// Container returns the muxed output container for the profile.
func (k Kind) Container() string {
	switch k {
	case KindHQMovie:
		return "mkv"
	case KindLQMovie:
		return "mp4"
	default:
		return "webm"
	}
}

// WebmCrfOptions parameterizes the VP9 two-pass profile.
type WebmCrfOptions struct {
	Target1080CRF int
	AudioQuality  int
	SpeedFirst    int
	SpeedSecond   int
}

// MkvCrfOptions parameterizes the single-pass HEVC profile.
type MkvCrfOptions struct {
	CRF          int
	Preset       string
	ScaleDown    int // target height, 0 = no down-scale
	AudioQuality int
	AudioProfile string
}

// DefaultWebmOptions mirrors the reference per-Kind defaults.
func DefaultWebmOptions(k Kind) WebmCrfOptions {
	switch k {
	case KindYTLike:
		return WebmCrfOptions{Target1080CRF: 32, AudioQuality: 4, SpeedFirst: 5, SpeedSecond: 2}
	case KindSeries:
		return WebmCrfOptions{Target1080CRF: 24, AudioQuality: 4, SpeedFirst: 5, SpeedSecond: 2}
	default:
		return WebmCrfOptions{Target1080CRF: 21, AudioQuality: 5, SpeedFirst: 4, SpeedSecond: 1}
	}
}

// DefaultMkvOptions mirrors the reference HQ/LQ defaults.
func DefaultMkvOptions(k Kind) MkvCrfOptions {
	if k == KindLQMovie {
		return MkvCrfOptions{CRF: 30, Preset: "slow", ScaleDown: 720, AudioQuality: 2, AudioProfile: "aac_he_v2"}
	}
	return MkvCrfOptions{CRF: 20, Preset: "slower", ScaleDown: 0, AudioQuality: 5, AudioProfile: ""}
}

// Descriptor identifies one source file and how it should be named and
// organized at the destination.
type Descriptor struct {
	Kind Kind
	Src  string

	// Movie fields.
	Name string

	// Series fields (zero value for movies).
	Series  string
	Season  int
	Episode int

	Webm WebmCrfOptions
	Mkv  MkvCrfOptions

	IgnoredAudioTracks map[int]bool
}

// IsSeries reports whether this descriptor identifies a series episode.
func (d *Descriptor) IsSeries() bool { return d.Kind == KindSeries }

// prefix reproduces the reference implementation's two-byte hex hash used
// to disambiguate unique_name across titles that share a short name.
func prefix(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return fmt.Sprintf("%02x%02x", sum[0], sum[1])
}

// FriendlyName is the display/file-stem name: "SxxEyy - <title>" for a
// series, the bare movie name otherwise.
func (d *Descriptor) FriendlyName() string {
	if d.IsSeries() {
		return fmt.Sprintf("S%02dE%02d - %s", d.Season, d.Episode, d.Name)
	}
	return d.Name
}

// FullName additionally carries the series title, for logging.
func (d *Descriptor) FullName() string {
	if d.IsSeries() {
		return fmt.Sprintf("%s - S%02dE%02d - %s", d.Series, d.Season, d.Episode, d.Name)
	}
	return d.Name
}

// UniqueName is a short, collision-resistant identifier suitable for
// temp-file names and log-file suffixes.
func (d *Descriptor) UniqueName() string {
	if d.IsSeries() {
		return fmt.Sprintf("%s-%02dx%02d", prefix(d.Series), d.Season, d.Episode)
	}
	name := d.Name
	if len(name) > 20 {
		name = name[:20]
	}
	return fmt.Sprintf("%s-%s", strings.TrimSpace(name), prefix(d.Name))
}

// ComparingKey distinguishes two descriptors referring to the same logical
// media item, used to detect duplicate ingestion.
func (d *Descriptor) ComparingKey() string {
	if d.IsSeries() {
		return fmt.Sprintf("%s|%d|%d", strings.ToLower(d.Series), d.Season, d.Episode)
	}
	return strings.ToLower(d.Name)
}

func (d *Descriptor) targetDir(dest string) string {
	if d.IsSeries() {
		return filepath.Join(dest, d.Series, fmt.Sprintf("S%02d", d.Season))
	}
	return dest
}

// TargetVideoPath is the final muxed output path, optionally tagged with a
// bracketed suffix (e.g. "[YT]").
func (d *Descriptor) TargetVideoPath(dest, suffix string) string {
	return d.targetPath(dest, suffix, d.Kind.Container())
}

// TargetSubtitlesPath is where one extracted subtitle track lands.
func (d *Descriptor) TargetSubtitlesPath(dest, lang string) string {
	return d.targetPath(dest, "", lang+".srt")
}

// TargetScriptPath is the shell script accumulating this item's commands
// under --scriptize.
func (d *Descriptor) TargetScriptPath(dest string) string {
	return d.targetPath(dest, "", "sh")
}

func (d *Descriptor) targetPath(dest, suffix, ext string) string {
	if suffix != "" {
		suffix = " [" + suffix + "]"
	}
	return filepath.Join(d.targetDir(dest), fmt.Sprintf("%s%s.%s", d.FriendlyName(), suffix, ext))
}

var seriesPattern = regexp.MustCompile(`(?i)^(.*)\WS(\d+)E(\d+)(?:E\d+)?\W(.*)$`)
var looseSeriesPattern = regexp.MustCompile(`^(.*?)(\d+)[^\d]+(\d+)(.*)$`)

// ErrUnknownFile reports that fname doesn't match any known naming scheme.
var ErrUnknownFile = fmt.Errorf("media: unrecognized filename")

// ParseSeries attempts to identify fname as "<series> SxxEyy <title>",
// matching the reference's strict regex.
func ParseSeries(fname, src string) (*Descriptor, error) {
	m := seriesPattern.FindStringSubmatch(fname)
	if m == nil {
		return nil, ErrUnknownFile
	}
	season, err1 := strconv.Atoi(m[2])
	episode, err2 := strconv.Atoi(m[3])
	if err1 != nil || err2 != nil {
		return nil, ErrUnknownFile
	}
	return &Descriptor{
		Kind:    KindSeries,
		Src:     src,
		Series:  strings.TrimSpace(m[1]),
		Season:  season,
		Episode: episode,
		Name:    strings.TrimSpace(m[4]),
		Webm:    DefaultWebmOptions(KindSeries),
	}, nil
}

// ParseSeriesLoose is the fallback "<series><digits>junk<digits><title>"
// heuristic used only when the caller has forced series parsing on a
// filename that doesn't match the strict SxxEyy convention.
func ParseSeriesLoose(fname, src string) (*Descriptor, error) {
	m := looseSeriesPattern.FindStringSubmatch(fname)
	if m == nil {
		return nil, ErrUnknownFile
	}
	season, err1 := strconv.Atoi(m[2])
	episode, err2 := strconv.Atoi(m[3])
	if err1 != nil || err2 != nil {
		return nil, ErrUnknownFile
	}
	return &Descriptor{
		Kind:    KindSeries,
		Src:     src,
		Series:  strings.TrimSpace(m[1]),
		Season:  season,
		Episode: episode,
		Name:    strings.TrimSpace(m[4]),
		Webm:    DefaultWebmOptions(KindSeries),
	}, nil
}

// NewMovie builds a movie Descriptor of the given kind from a bare name
// (the filename stem, or a --force-params "name=" override).
func NewMovie(kind Kind, fname, src string) *Descriptor {
	d := &Descriptor{Kind: kind, Src: src, Name: fname}
	switch kind {
	case KindHQMovie, KindLQMovie:
		d.Mkv = DefaultMkvOptions(kind)
	default:
		d.Webm = DefaultWebmOptions(kind)
	}
	return d
}
