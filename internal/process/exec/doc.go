// Package exec provides the default process.Backend, built on os/exec.
//
// On unix each child gets its own process group so that Kill reaches any
// workers the sidecar forks. On windows Kill terminates the child only.
package exec
