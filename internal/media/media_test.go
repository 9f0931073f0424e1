package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeriesStrict(t *testing.T) {
	d, err := ParseSeries("Show Name S02E05 The Episode Title.mkv", "/src/a.mkv")
	require.NoError(t, err)
	assert.Equal(t, "Show Name", d.Series)
	assert.Equal(t, 2, d.Season)
	assert.Equal(t, 5, d.Episode)
	assert.Equal(t, "The Episode Title.mkv", d.Name)
}

func TestParseSeriesRejectsNonMatchingName(t *testing.T) {
	_, err := ParseSeries("just-a-movie.mkv", "/src/a.mkv")
	assert.ErrorIs(t, err, ErrUnknownFile)
}

func TestFriendlyAndUniqueNameForSeries(t *testing.T) {
	d, err := ParseSeries("Show Name S02E05 The Episode Title.mkv", "/src/a.mkv")
	require.NoError(t, err)
	assert.Equal(t, "S02E05 - The Episode Title.mkv", d.FriendlyName())
	assert.Regexp(t, `^[0-9a-f]{4}-02x05$`, d.UniqueName())
}

func TestComparingKeyDistinguishesEpisodes(t *testing.T) {
	a, err := ParseSeries("Show S01E01 Pilot.mkv", "/src/a.mkv")
	require.NoError(t, err)
	b, err := ParseSeries("Show S01E02 Next.mkv", "/src/b.mkv")
	require.NoError(t, err)
	assert.NotEqual(t, a.ComparingKey(), b.ComparingKey())
}

func TestTargetVideoPathForSeriesNestsBySeasonFolder(t *testing.T) {
	d, err := ParseSeries("Show S01E01 Pilot.mkv", "/src/a.mkv")
	require.NoError(t, err)
	path := d.TargetVideoPath("/dest", "")
	assert.Equal(t, "/dest/Show/S01/S01E01 - Pilot.mkv.webm", path)
}

func TestNewMovieDefaultsByKind(t *testing.T) {
	hq := NewMovie(KindHQMovie, "Some Film", "/src/film.mkv")
	assert.Equal(t, "mkv", hq.Kind.Container())
	assert.Equal(t, 20, hq.Mkv.CRF)

	def := NewMovie(KindMovie, "Some Film", "/src/film.mkv")
	assert.Equal(t, "webm", def.Kind.Container())
	assert.Equal(t, 21, def.Webm.Target1080CRF)
}

func TestTargetVideoPathWithSuffix(t *testing.T) {
	d := NewMovie(KindYTLike, "Some Film", "/src/film.mkv")
	path := d.TargetVideoPath("/dest", "YT")
	assert.Equal(t, "/dest/Some Film [YT].webm", path)
}
