// Command ragctl drives a RAG chat server from the terminal and performs
// maintenance on its store.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
