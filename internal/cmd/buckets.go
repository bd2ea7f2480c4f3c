package cmd

import "github.com/spf13/cobra"

var bucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "Manage persisted rate limit buckets",
}

func init() {
	bucketsCmd.AddCommand(bucketsListCmd)
	bucketsCmd.AddCommand(bucketsResetCmd)
	rootCmd.AddCommand(bucketsCmd)
}
