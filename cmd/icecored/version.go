package main

import "fmt"

// Populated via -ldflags="-X ...".
var (
	buildVersion string
	buildDate    string
)

func version() {
	if buildVersion == "" {
		buildVersion = "dev"
	}
	if buildDate == "" {
		buildDate = "unknown"
	}
	fmt.Printf("icecored %s (built %s)\n", buildVersion, buildDate)
}
