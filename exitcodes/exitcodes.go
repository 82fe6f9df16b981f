// Package exitcodes defines the process exit codes of ut-runner.
package exitcodes

// Exit codes:
//
// * Success (0): every run finished and none reported failures or errors
// * TestFailure (1): a run finished with failing or erroring tests
// * RuntimeErr (2): the engine was unavailable, a run was interrupted or the
// configuration was invalid
const (
	Success     = 0
	TestFailure = 1
	RuntimeErr  = 2
)
