// The main package for the edgarfetch executable.
package main

import "github.com/openfilings/edgarfetch/cmd"

func main() {
	cmd.Execute()
}
