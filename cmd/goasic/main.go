// Command goasic validates, timestamps, extends and signs ASiC containers.
//
// Usage:
//
//	goasic <command> [options] <args>
//
// Commands:
//
//	validate   Validate the signatures and timestamps of a container
//	timestamp  Add a container timestamp to an ASiC-S container
//	extend     Extend signatures to a higher baseline profile
//	sign       Sign data files into an ASiC container
//	serve      Run a test time-stamping authority and OCSP responder
//
// Examples:
//
//	# Validate a container
//	goasic validate document.asice
//
//	# Validate with a JSON report
//	goasic validate --format json document.asice
//
//	# Extend all signatures to LTA
//	goasic --config goasic.yaml extend --profile LTA in.asice out.asice
package main

import (
	"os"

	"github.com/georgepadayatti/goasic/cli"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/goasic
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime

	os.Exit(cli.Run(os.Args[1:], os.Stdout, os.Stderr))
}
