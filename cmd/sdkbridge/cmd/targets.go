package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"sdkbridge/catalog"
	"sdkbridge/native"
)

// targetsCmd lists the fixed call target catalogue.
var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List the call target catalogue",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := catalog.New(native.New(native.DefaultConfig()))
		names := reg.Names()
		sort.Strings(names)
		for _, name := range names {
			t, err := reg.Resolve(name)
			if err != nil {
				return err
			}
			marker := " "
			if t.RequiresInit {
				marker = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "\n(* requires native initialization)")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(targetsCmd)
}
