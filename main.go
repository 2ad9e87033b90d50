// The main package for the trainwatch executable.
package main

import (
	"github.com/reachrl/trainwatch/cmd"
)

func main() {
	cmd.Execute()
}
