package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/gophertribe/devtool/build"
)

const (
	binary        = "dist/i2cdev"
	mainPackage   = "./cmd/i2cdev"
	configPackage = "github.com/mklimuk/i2cdevice/config"
	builderImage  = "gophertribe/gobuild:1.25-bookworm"
)

// boards maps a target board to the os/arch it is cross compiled for.
var boards = map[string][2]string{
	"nanopi": {"linux", "arm"},
	"rpi":    {"linux", "arm64"},
}

func BuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the i2cdev binary",
		RunE: func(cmd *cobra.Command, args []string) error {
			os := cmd.Flag("os").Value.String()
			arch := cmd.Flag("arch").Value.String()
			version := cmd.Flag("version").Value.String()
			crossOs := cmd.Flag("cross-os").Value.String()
			crossArch := cmd.Flag("cross-arch").Value.String()
			if board := cmd.Flag("board").Value.String(); board != "" {
				target, ok := boards[board]
				if !ok {
					return fmt.Errorf("unknown board %q", board)
				}
				crossOs, crossArch = target[0], target[1]
			}

			// native builds use go build, cgo is needed by the HID driver
			if os == runtime.GOOS && arch == runtime.GOARCH {
				if crossOs != "" && crossArch != "" {
					os = crossOs
					arch = crossArch
				}
				return build.GoBuild(binary, mainPackage, build.GoBuildOpts{
					Version:       version,
					InjectVersion: true,
					ConfigPackage: configPackage,
					EnableCgo:     true,
					Arch:          arch,
					OS:            os,
				})
			}

			noCache, err := cmd.Flags().GetBool("no-cache")
			if err != nil {
				return fmt.Errorf("could not get no-cache flag: %w", err)
			}
			return build.Docker(cmd.Context(), fmt.Sprintf("./dev-%s-%s", os, arch), []string{"build", "--version", version, "--cross-os", crossOs, "--cross-arch", crossArch}, build.DockerBuildOpts{
				NoCache: noCache,
				Image:   builderImage,
			})
		},
	}
	cmd.Flags().Bool("no-cache", false, "do not use cache when building the app")
	cmd.Flags().String("version", "latest", "version of the cli")
	cmd.Flags().String("os", runtime.GOOS, "os to build for")
	cmd.Flags().String("arch", runtime.GOARCH, "arch to build for")
	cmd.Flags().String("cross-os", "", "os to cross-compile for")
	cmd.Flags().String("cross-arch", "", "arch to cross-compile for")
	cmd.Flags().String("board", "", "target board (nanopi, rpi), sets cross-os and cross-arch")

	return cmd
}
