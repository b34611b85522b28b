package executor

import (
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"sdkbridge/faults"
)

// checkPrerequisites runs the pre-spawn host probe when one is configured.
// The native library refuses to initialize without its host client running;
// probing first fails fast with prerequisite_not_met before a worker process
// is ever spawned.
func (e *Executor) checkPrerequisites() error {
	if e.cfg.HostProcess == "" {
		return nil
	}
	found, err := hostProcessRunning(e.cfg.HostProcess)
	if err != nil {
		// Probe failure is not proof of absence; let the worker's own
		// initialization be the judge.
		e.log.Warn("host probe failed, continuing")
		return nil
	}
	if !found {
		return faults.New(faults.KindPrerequisiteNotMet, "host process %q is not running", e.cfg.HostProcess)
	}
	return nil
}

// hostProcessRunning scans the process table for a name match.
func hostProcessRunning(name string) (bool, error) {
	procs, err := process.Processes()
	if err != nil {
		return false, err
	}
	needle := strings.ToLower(name)
	for _, p := range procs {
		pname, err := p.Name()
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(pname), needle) {
			return true, nil
		}
	}
	return false, nil
}
