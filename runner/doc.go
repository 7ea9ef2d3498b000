// Package runner drives go test as the host framework for op-witness.
//
// The main components are:
//   - TestExecutor: runs one execution of one test as a go test -json process
//   - OutputParser: turns the test2json stream into a pass, fail or skip Outcome
//   - Runner: schedules tests on a bounded worker pool and translates every
//     execution into lifecycle callbacks, re-executing failed or skipped tests
//     while the retry policy allows
package runner
