// The main package for the cbr-rates-crawler executable.
package main

import (
	// crawler.location must resolve on hosts without a zoneinfo database
	_ "time/tzdata"

	"github.com/JakeFAU/cbr-rates-crawler/cmd"
)

func main() {
	cmd.Execute()
}
