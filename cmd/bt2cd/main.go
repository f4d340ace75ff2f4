// Command bt2cd is the BT2C node daemon and operator CLI, mirroring the
// reference surface of spec.md §6: node start/stop, wallet create,
// validator register, chain init.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	internalerrors "github.com/bt2c/bt2c-core/internal/errors"
)

// Exit codes match spec.md §6's CLI convention: 0 success, 1 user error,
// 2 transient failure, 3 fatal.
const (
	exitSuccess   = 0
	exitUser      = 1
	exitTransient = 2
	exitFatal     = 3
)

func main() {
	root := newRootCommand()
	os.Exit(run(root))
}

func run(root *cobra.Command) int {
	err := root.Execute()
	if err == nil {
		return exitSuccess
	}
	fmt.Fprintln(os.Stderr, "bt2cd:", err)
	return exitCodeFor(err)
}

// exitCodeFor classifies err into the §6 exit-code convention. A
// *ChainError carries its own machine-readable Kind; anything else is
// treated as an unexpected, fatal condition.
func exitCodeFor(err error) int {
	var chainErr *internalerrors.ChainError
	if !errors.As(err, &chainErr) {
		return exitFatal
	}
	switch chainErr.Kind {
	case internalerrors.KindConfig, internalerrors.KindInvalidStructure, internalerrors.KindNotFound:
		return exitUser
	case internalerrors.KindStoreIO:
		return exitTransient
	default:
		return exitFatal
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bt2cd",
		Short: "BT2C proof-of-stake node daemon",
	}
	cmd.AddCommand(newNodeCommand())
	cmd.AddCommand(newWalletCommand())
	cmd.AddCommand(newValidatorCommand())
	cmd.AddCommand(newChainCommand())
	return cmd
}

func newLogger() *zap.SugaredLogger {
	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger.Sugar()
}
