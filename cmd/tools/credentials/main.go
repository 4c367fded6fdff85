// Command credentials prepares the values operators paste into the service
// environment and into client requests.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(defaultPrompter).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
