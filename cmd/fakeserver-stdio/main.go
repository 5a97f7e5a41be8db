// fakeserver-stdio is a tiny stdio-speaking MCP peer: it serves a
// fakeserver.Core over stdin/stdout, so internal/transport's StdioTransport
// (or the mcpconform binary itself) can be pointed at a real child process.
// It is a test fixture; this harness bundles no example servers for end
// users.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/gate4ai/mcpconform/internal/fakeserver"
)

func main() {
	version := flag.String("version", "2024-11-05", "protocol revision to emulate")
	flag.Parse()

	core := fakeserver.New(*version)
	if err := fakeserver.ServeStdio(context.Background(), os.Stdin, os.Stdout, core); err != nil {
		fmt.Fprintln(os.Stderr, "fakeserver-stdio:", err)
		os.Exit(1)
	}
}
