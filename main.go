// Package main implements a Telegram bot that posts the daily power outage schedule
// for a subscriber's subqueue and reminds them before each outage starts and ends.
package main

import (
	"os"

	"outage-notifier/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
