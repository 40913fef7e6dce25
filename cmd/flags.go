package cmd

import (
	"fmt"

	"github.com/markfickett/dicehistogram/config"
	"github.com/spf13/cobra"
)

// mustGetInt gets an int flag value or panics if the flag doesn't exist.
// This is appropriate for flags defined in init() - errors indicate programming bugs.
func mustGetInt(cmd *cobra.Command, name string) int {
	val, err := cmd.Flags().GetInt(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// mustGetString gets a string flag value or panics if the flag doesn't exist.
func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// mustGetBool gets a bool flag value or panics if the flag doesn't exist.
func mustGetBool(cmd *cobra.Command, name string) bool {
	val, err := cmd.Flags().GetBool(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// mustGetFloat64 gets a float64 flag value or panics if the flag doesn't exist.
func mustGetFloat64(cmd *cobra.Command, name string) float64 {
	val, err := cmd.Flags().GetFloat64(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// Flags only override the config when given on the command line.

func setInt(cmd *cobra.Command, name string, dst *int) {
	if cmd.Flags().Changed(name) {
		*dst = mustGetInt(cmd, name)
	}
}

func setInt64(cmd *cobra.Command, name string, dst *int64) {
	if cmd.Flags().Changed(name) {
		val, err := cmd.Flags().GetInt64(name)
		if err != nil {
			panic(fmt.Sprintf("flag error for --%s: %v", name, err))
		}
		*dst = val
	}
}

func setString(cmd *cobra.Command, name string, dst *string) {
	if cmd.Flags().Changed(name) {
		*dst = mustGetString(cmd, name)
	}
}

func setBool(cmd *cobra.Command, name string, dst *bool) {
	if cmd.Flags().Changed(name) {
		*dst = mustGetBool(cmd, name)
	}
}

func setFloat(cmd *cobra.Command, name string, dst *config.Float) {
	if cmd.Flags().Changed(name) {
		*dst = config.Float(mustGetFloat64(cmd, name))
	}
}

// setFloatText parses a string flag that may be "inf"
func setFloatText(cmd *cobra.Command, name string, dst *config.Float) error {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	if err := dst.UnmarshalText([]byte(mustGetString(cmd, name))); err != nil {
		return fmt.Errorf("--%s: %w", name, err)
	}
	return nil
}
