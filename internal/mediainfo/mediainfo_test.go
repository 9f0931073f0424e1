package mediainfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInfo() *Info {
	info := &Info{Path: "sample.mkv"}
	info.Tracks = []Track{
		{ID: 0, Type: "video", Codec: "MPEG-4p10/AVC/h.264"},
		{ID: 1, Type: "audio", Codec: "AC-3"},
		{ID: 2, Type: "audio", Codec: "DTS"},
		{ID: 4, Type: "subtitles", Codec: "HDMV PGS"},
		{ID: 5, Type: "subtitles", Codec: "SubRip/SRT"},
		{ID: 6, Type: "subtitles", Codec: "SubRip/SRT"},
	}
	info.Tracks[0].Properties.PixelDimensions = "1920x1080"
	info.Tracks[1].Properties.Language = "eng"
	info.Tracks[1].Properties.AudioChannels = 2
	info.Tracks[2].Properties.Language = "eng"
	info.Tracks[2].Properties.AudioChannels = 6
	info.Tracks[4].Properties.Language = "eng"
	info.Tracks[5].Properties.Language = "eng"
	return info
}

func TestSubtitlesDeduplicatesLanguageAndName(t *testing.T) {
	info := sampleInfo()
	subs := info.Subtitles()
	require.Len(t, subs, 2)
	assert.Equal(t, "eng", subs[0].Language)
	assert.Equal(t, "eng_1", subs[1].Language, "a second eng subtitle track must get a disambiguated name")
}

func TestAudioTracksOnlyIncludesChannelBearingTracks(t *testing.T) {
	info := sampleInfo()
	audio := info.AudioTracks()
	require.Len(t, audio, 2)
	assert.Equal(t, 2, audio[0].Channels)
	assert.Equal(t, 6, audio[1].Channels)
}

func TestVideoDimensionsParsesPixelDimensions(t *testing.T) {
	info := sampleInfo()
	w, h, err := info.VideoDimensions()
	require.NoError(t, err)
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)
}

func TestVideoDimensionsErrorsWithoutAVideoTrack(t *testing.T) {
	info := &Info{Path: "no-video.mkv", Tracks: []Track{{ID: 0, Type: "audio", Codec: "AC-3"}}}
	_, _, err := info.VideoDimensions()
	assert.Error(t, err)
}

func TestVideoDiagonal(t *testing.T) {
	info := sampleInfo()
	diag, err := info.VideoDiagonal()
	require.NoError(t, err)
	assert.InDelta(t, 2202.9, diag, 0.5)
}
