// Command memorykit is the MemoryKit command-line interface.
package main

import "github.com/mesh-intelligence/memorykit/internal/cli"

func main() {
	cli.Execute()
}
