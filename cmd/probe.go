package cmd

import (
	"fmt"

	"github.com/andresmejia3/skuscan/internal/utils"
	"github.com/andresmejia3/skuscan/internal/video"
	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe <video>",
	Short: "Print the resolution, frame rate and length of a video",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		info, err := video.Probe(cmd.Context(), args[0])
		if err != nil {
			utils.Die("Failed to probe video", err, nil)
		}
		fmt.Printf("📼 %s\n", args[0])
		fmt.Printf("   Resolution: %dx%d\n", info.Width, info.Height)
		fmt.Printf("   Frame rate: %.2f fps\n", info.FPS)
		if info.Frames > 0 {
			fmt.Printf("   Frames:     %d", info.Frames)
			if info.FPS > 0 {
				fmt.Printf(" (%s)", fmtDuration(float64(info.Frames)/info.FPS))
			}
			fmt.Println()
		}
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
