// Package harness runs a subject under the autotest protocol and decides the
// outcome of the run.
//
// A run moves through these states:
//
//	STARTING -> PROMPT_WAIT (optional) -> RUNNING -> SUCCESS | FAILURE | TIMEOUT | ERROR
//
// STARTING spawns the subject and arms the watchdog. If a prompt is
// configured, PROMPT_WAIT consumes output until the prompt appears and then
// writes the configured input. RUNNING feeds every output line to the
// protocol parser and writes each finished test's report.
//
// Two goroutines race to decide the outcome: the reader, which reports
// SUCCESS, FAILURE or ERROR, and the watchdog, which reports TIMEOUT. The
// first result wins; the other is dropped. Whatever the outcome, the
// subject's session is stopped and reaped before Run returns.
//
// Test mode and stress mode share this state machine. They only differ in
// the RunConfig: stress mode targets several iterations and may continue
// after a failed one.
package harness
