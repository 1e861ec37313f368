package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"callpipe/pipeline"
)

var durationCmd = &cobra.Command{
	Use:   "duration START END",
	Short: "Print the whole minutes between two call timestamps, or null",
	Example: `  callpipe duration 2023-10-01T10:00:00Z 2023-10-01T10:30:00Z
  callpipe duration "" 2023-10-01T10:30:00Z`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := "null"
		if d := pipeline.CalculateDuration(args[0], args[1]); d != nil {
			out = strconv.Itoa(*d)
		}
		_, err := fmt.Fprintln(cmd.OutOrStdout(), out)
		return err
	},
}
