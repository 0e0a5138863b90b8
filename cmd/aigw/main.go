// Aigw is a governed gateway in front of a chat-completion API: it enforces
// a monthly budget and a request rate, retries transient failures and keeps
// a usage ledger of every call.
package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "configs/aigw.yaml", "path to config file (empty = defaults and environment only)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("aigw", version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
