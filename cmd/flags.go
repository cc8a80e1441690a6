package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// mustFlag reads a flag every camflow command registers in its init. A
// lookup error means the command and its flag set disagree, which is a bug.
func mustFlag[T any](cmd *cobra.Command, name string, get func(string) (T, error)) T {
	val, err := get(name)
	if err != nil {
		panic(fmt.Sprintf("camflow %s: flag --%s: %v", cmd.Name(), name, err))
	}
	return val
}

func mustGetBool(cmd *cobra.Command, name string) bool {
	return mustFlag(cmd, name, cmd.Flags().GetBool)
}

func mustGetInt(cmd *cobra.Command, name string) int {
	return mustFlag(cmd, name, cmd.Flags().GetInt)
}

func mustGetString(cmd *cobra.Command, name string) string {
	return mustFlag(cmd, name, cmd.Flags().GetString)
}

// mustGetDuration backs the polling interval of `camflow run`.
func mustGetDuration(cmd *cobra.Command, name string) time.Duration {
	return mustFlag(cmd, name, cmd.Flags().GetDuration)
}
