package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	azulconfig "github.com/lexsf/azul/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the azul.hcl config file",
}

var configInitPath string

func init() {
	configInitCmd.Flags().StringVar(&configInitPath, "path", "azul.hcl", "Path to write the starter config to")
	configCmd.AddCommand(configInitCmd)
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter azul.hcl with the built-in defaults",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configInitPath); err == nil {
			return fmt.Errorf("azul: %s already exists", configInitPath)
		}
		if err := azulconfig.WriteDefault(configInitPath); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", configInitPath)
		return nil
	},
}
