// Command gpuschedctl is a thin REST client for a running gpuschedd daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var serverAddr string

func main() {
	root := &cobra.Command{
		Use:   "gpuschedctl",
		Short: "Control a gpusched daemon over its HTTP API",
	}
	root.PersistentFlags().StringVar(&serverAddr, "addr", envOr("GPUSCHED_ADDR", "http://127.0.0.1:8070"), "gpuschedd API base URL")

	root.AddCommand(
		newSubmitCmd(),
		newListCmd(),
		newGetCmd(),
		newLogsCmd(),
		newCancelCmd(),
		newGPUsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
