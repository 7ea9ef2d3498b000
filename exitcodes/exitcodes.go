// Package exitcodes defines the standard exit codes used by op-witness.
package exitcodes

// Exit code constants used by op-witness
// These constants define the exit codes that the application uses to indicate
// various states when it exits:
//
// * Success (0): Every test passed or was skipped
// * TestFailure (1): At least one test has a final failed verdict
// * RuntimeErr (2): Used for runtime errors such as bad configuration, an
// unusable test directory or an interrupted run
const (
	Success     = 0 // All tests pass
	TestFailure = 1 // Test failures
	RuntimeErr  = 2 // Runtime errors or interruptions
)
