package supervisor

import (
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// killSession makes a best-effort attempt to signal all processes in session
// sid. It makes several passes over the running processes and returns once a
// pass finds none, or after maxPasses. Processes forking continually may
// escape it. Signals other than SIGKILL are sent in a single pass.
func killSession(sid int, sig unix.Signal) int {
	const maxPasses = 3
	total := 0
	for i := 0; i < maxPasses; i++ {
		pids, err := process.Pids()
		if err != nil {
			return total
		}
		n := 0
		for _, pid := range pids {
			pid := int(pid)
			if s, err := unix.Getsid(pid); err == nil && s == sid {
				unix.Kill(pid, sig)
				n++
			}
		}
		total += n
		if n == 0 || sig != unix.SIGKILL {
			return total
		}
	}
	return total
}
