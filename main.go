package main

import (
	"runtime"

	"github.com/markfickett/dicehistogram/cmd"
	"github.com/markfickett/dicehistogram/signalhandler"
)

func main() {
	// Set the optimal number of CPUs to use
	runtime.GOMAXPROCS(signalhandler.GetOptimalProcs())

	cmd.Execute()
}
