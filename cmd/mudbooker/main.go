// MudBooker periodically snapshots a list of open items into a dated folder
// and prunes snapshot folders older than the configured keep-for period.
//
// Usage:
//
//	# Run the scheduler until SIGINT/SIGTERM
//	mudbooker run --config /etc/mudbooker/config.yaml
//
//	# Take one snapshot now
//	mudbooker snapshot
//
//	# Show what retention would delete
//	mudbooker prune --dry-run
//
//	# Change the snapshot interval to 30 minutes
//	mudbooker settings set interval=c custom_interval=30
package main

func main() {
	Execute()
}
