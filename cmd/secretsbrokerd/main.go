package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe()
	case "status":
		cmdStatus()
	case "plugins":
		cmdPlugins()
	case "provide-lock-code":
		cmdProvideLockCode()
	case "modify-lock-code":
		cmdModifyLockCode()
	case "forget-lock-code":
		cmdForgetLockCode()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: secretsbrokerd <command> [args]

Commands:
  serve               Run the broker daemon in the foreground
  status               Show whether the broker is reachable and its plugins
  plugins               List installed storage/encryption/authentication plugins
  provide-lock-code     Unlock the bookkeeping database and device-lock key
  modify-lock-code      Change the device lock code, re-keying every device-lock collection and secret
  forget-lock-code      Forget the device lock key and re-lock the bookkeeping database

Environment:
  SECRETSBROKERD_DATA_DIR   where the bookkeeping and plugin databases live (default ~/.secretsbrokerd)
  SECRETSBROKERD_ADDR       address the broker listens on and clients connect to (default 127.0.0.1:7210)`)
}
