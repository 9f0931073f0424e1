package media

import (
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/jmylchreest/recode/internal/mediainfo"
)

// SelectAudioTracks prompts interactively for which audio tracks to keep,
// replacing the reference implementation's input_numbers/confirm_yesno
// terminal loop with a multi-select form. It returns the set of track IDs
// to drop (ignored_audio_tracks in the reference).
func SelectAudioTracks(friendlyName string, tracks []mediainfo.AudioTrack) (map[int]bool, error) {
	if len(tracks) == 0 {
		return nil, nil
	}

	options := make([]huh.Option[int], 0, len(tracks))
	allIDs := make([]int, 0, len(tracks))
	for _, tr := range tracks {
		label := fmt.Sprintf("[%s] %s (%d channels)", tr.Language, tr.Name, tr.Channels)
		options = append(options, huh.NewOption(label, tr.TrackID).Selected(true))
		allIDs = append(allIDs, tr.TrackID)
	}

	var keep []int
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[int]().
				Title(fmt.Sprintf("Audio tracks in %q — keep which ones?", friendlyName)).
				Options(options...).
				Value(&keep),
		),
	)
	if err := form.Run(); err != nil {
		return nil, fmt.Errorf("media: audio track selection: %w", err)
	}

	kept := make(map[int]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}
	ignored := make(map[int]bool)
	for _, id := range allIDs {
		if !kept[id] {
			ignored[id] = true
		}
	}
	return ignored, nil
}
