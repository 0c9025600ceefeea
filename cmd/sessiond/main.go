// Command sessiond serves on-device LLM sessions over HTTP and offers local
// detect, generate and models subcommands.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
