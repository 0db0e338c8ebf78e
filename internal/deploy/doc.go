// Package deploy hands verified capsules to an external deployment
// command.
//
// A Service always opens the capsule with the configured public key
// before the Runner sees the file path. A capsule that fails signature,
// hash or format checks never reaches the runner.
//
// The HTTP boundary exposes the same flow as POST /api/deploy/capsule.
package deploy
