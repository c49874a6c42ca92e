package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/zily-project/zily/internal/protocol"
	"github.com/zily-project/zily/internal/util"
)

func versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if short {
				fmt.Println(util.AppVersion)
				return
			}

			fmt.Printf(banner, util.AppVersion)
			fmt.Println()
			fmt.Printf("  Version:    %s\n", util.AppVersion)
			fmt.Printf("  Protocol:   %s\n", protocol.APIVersion)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
			fmt.Println()
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only the version number")
	return cmd
}
