// ./main.go
package main

import (
	"github.com/xkilldash9x/deskbridge/cmd"
)

// main is the entry point for the deskbridge application.
func main() {
	cmd.Execute()
}
