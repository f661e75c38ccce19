package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/rs/zerolog/log"
)

// waitOnWindows pauses so the user can read the error before the console
// window closes.
func waitOnWindows() {
	if runtime.GOOS == "windows" {
		fmt.Println()
		fmt.Println("Press Enter to exit...")
		fmt.Scanln()
	}
}

func fatalWithWait(format string, args ...any) {
	log.Error().Msg(fmt.Sprintf(format, args...))
	waitOnWindows()
	os.Exit(1)
}
