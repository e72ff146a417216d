// Command scancache serves paginated listings of slow backing stores from a
// Redis cache and warms that cache on demand or on a schedule.
package main

func main() {
	Execute()
}
