//go:build !unix

package scoring

import "os/exec"

// configureProcess keeps the default cancellation, which kills only
// the direct child.
func configureProcess(cmd *exec.Cmd) {}
