// Command newshub runs the Naija News Hub crawl orchestrator.
package main

import "github.com/JakeFAU/newshub-crawler/cmd"

func main() {
	cmd.Execute()
}
