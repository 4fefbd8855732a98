package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// TokenEnvVar is the variable the exported credential is assigned to.
const TokenEnvVar = "STOREFRONT_TOKEN"

var shellFormat string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a freshly minted credential as shell exports",
	Long: `Mints a new bearer credential for the logged-in principal and prints it as
an environment export for scripts that call the backend directly.

Examples:
  eval $(storectl auth token)
  eval (storectl auth token --shell fish)
  storectl auth token --shell powershell | Invoke-Expression`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := session(cmd.Context())
		if err != nil {
			return err
		}

		principal, err := sess.Principal(cmd.Context())
		if err != nil {
			return err
		}
		if principal == nil {
			return fmt.Errorf("not logged in; run `storectl auth login`")
		}

		credential, err := sess.Source().FreshCredential(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to mint credential: %w", err)
		}

		if shellFormat == "" {
			shellFormat = detectShell()
		}

		switch strings.ToLower(shellFormat) {
		case "posix", "bash", "zsh", "sh":
			printExport("eval $(storectl auth token)", "export %s=\"%s\"\n", credential)
		case "fish":
			printExport("eval (storectl auth token --shell fish)", "set -x %s \"%s\"\n", credential)
		case "powershell", "pwsh", "ps1":
			printExport("storectl auth token --shell powershell | Invoke-Expression", "$env:%s=\"%s\"\n", credential)
		default:
			return fmt.Errorf("unsupported shell format: %s\n\nSupported formats: posix, fish, powershell", shellFormat)
		}
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&shellFormat, "shell", "", "Output format: posix, fish or powershell (default: detected from $SHELL)")
}

// detectShell attempts to detect the current shell from the SHELL environment variable
func detectShell() string {
	shell := os.Getenv("SHELL")
	if shell == "" {
		return "posix"
	}

	switch filepath.Base(shell) {
	case "fish":
		return "fish"
	case "pwsh", "powershell":
		return "powershell"
	default:
		return "posix"
	}
}

// printExport writes the assignment to stdout; the usage hint goes to stderr
// and only when a person is watching.
func printExport(usage, format, credential string) {
	if isTerminal(os.Stdout) {
		fmt.Fprintln(os.Stderr, "# Run this command to configure your environment:")
		fmt.Fprintf(os.Stderr, "#   %s\n\n", usage)
	}
	fmt.Printf(format, TokenEnvVar, credential)
}

// isTerminal checks if the given file is a terminal (TTY)
func isTerminal(f *os.File) bool {
	fileInfo, err := f.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
