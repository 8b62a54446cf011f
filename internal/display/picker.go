package display

import (
	"errors"

	"github.com/ncruces/zenity"
)

// ErrNoSelection is returned when the user closes the file dialog.
var ErrNoSelection = errors.New("no file selected")

// VideoPatterns are the extensions offered by the file dialog.
var VideoPatterns = []string{"*.mp4", "*.avi", "*.mkv", "*.mov"}

// PickVideo opens a native file dialog for choosing a video.
func PickVideo() (string, error) {
	path, err := zenity.SelectFile(
		zenity.Title("Open Video File"),
		zenity.FileFilters{
			{Name: "Video Files", Patterns: VideoPatterns},
		},
	)
	if err != nil {
		if errors.Is(err, zenity.ErrCanceled) {
			return "", ErrNoSelection
		}
		return "", err
	}
	return path, nil
}
