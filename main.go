// The main package for the tracker executable.
package main

import (
	"github.com/JakeFAU/account-tracker/cmd"
)

func main() {
	cmd.Execute()
}
