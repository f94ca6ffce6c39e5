package main

import (
	"fmt"
	"os"

	"github.com/awnumar/memguard"

	"github.com/PolarWolf314/sett/cmd"
	kerrors "github.com/PolarWolf314/sett/internal/errors"
	"github.com/PolarWolf314/sett/internal/ui"
)

func main() {
	memguard.CatchInterrupt()
	defer memguard.Purge()

	if err := cmd.RootCmd.Execute(); err != nil {
		cmd.Logger.Errorf("%v", err)
		fmt.Fprintln(os.Stderr, ui.Error.Sprint("Error:")+" "+kerrors.UserMessage(err))
		memguard.SafeExit(1)
	}
}
