// Command tenantctl drives tenant onboarding against the tenant-data
// function, watches an authenticated session and seeds a local database.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
