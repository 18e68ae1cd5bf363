package cmd

import "fmt"

// printVersionInfo displays build version information.
func printVersionInfo() {
	fmt.Printf("Converso %s\n", AppVersion)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
