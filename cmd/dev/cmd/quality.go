package cmd

import (
	"fmt"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

func qualityCmd(use, short, what string, run func() error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := run(); err != nil {
				return fmt.Errorf("failed to run %s: %w", what, err)
			}
			return nil
		},
	}
}

func TestCmd() *cobra.Command {
	return qualityCmd("test", "Run unit tests", "tests", test.Test)
}

func LintCmd() *cobra.Command {
	return qualityCmd("lint", "Run linters", "linting", test.Lint)
}

// IntegrationTestCmd runs the suite with TEST_INTEGRATION_ENABLED set, which
// enables the TestHardware_* tests in station. They need a BME280 at 0x76 and
// an SSD1306 at 0x3C on the host bus named by ENVDISPLAY_I2C_BUS.
func IntegrationTestCmd() *cobra.Command {
	return qualityCmd("integration-test", "Run tests against a BME280 and an SSD1306 on the host I2C bus", "integration tests", test.Integ)
}
