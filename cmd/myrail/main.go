package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "myrail",
	Short: "MyRail: community crew boards for virtual railroading",
	Long:  "MyRail is a web service where railfans sign in with Discord, form communities, invite each other, and claim engineer or conductor slots on shared trains in real time.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: configs/myrail.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
