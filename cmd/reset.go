package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/andresmejia3/skuscan/internal/config"
	"github.com/andresmejia3/skuscan/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB      bool
	resetFiles   bool
	resetYes     bool
	resetConfig  string
	resetPreview string
)

var resetCmd = &cobra.Command{
	Use:         "reset",
	Short:       "Reset system state (SKU catalogue, run history, preview file)",
	Long:        "Clears stored data. By default, it resets everything. Use flags to clear specific components.",
	Annotations: map[string]string{dbAnnotation: dbOptional},
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetFiles {
			resetDB = true
			resetFiles = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			if DB == nil {
				fmt.Println("⚠️  No database reachable, skipping.")
			} else if resetYes || confirm(reader, "⚠️  Are you sure you want to DROP the SKU catalogue and run history?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		if resetFiles {
			path, err := previewPath(resetPreview, resetConfig)
			if err != nil {
				utils.Die("Failed to read configuration", err, nil)
			}
			if path != "" && (resetYes || confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete %s?", path))) {
				fmt.Println("🗑️  Clearing Preview Frame...")
				removeFile(path)
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "database", false, "Clear PostgreSQL tables")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Clear the preview frame file")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	resetCmd.Flags().StringVarP(&resetConfig, "config", "c", "", "YAML config file naming the preview path")
	resetCmd.Flags().StringVarP(&resetPreview, "preview", "p", "", "Preview file to delete")
	rootCmd.AddCommand(resetCmd)
}

// previewPath prefers the flag, then the config file.
func previewPath(flag, configPath string) (string, error) {
	if flag != "" || configPath == "" {
		return flag, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	return cfg.Display.PreviewPath, nil
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
