// The main package for the booklist executable.
package main

import (
	"github.com/JakeFAU/realtime-booklist/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
