// The main package for the elastic-logger executable.
package main

import (
	"github.com/JakeFAU/elastic-logger/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
