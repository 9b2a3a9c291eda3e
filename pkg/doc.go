// Package pkg provides shared utilities for the uDMX device and host stacks.
//
//   - Component logging on top of [github.com/sirupsen/logrus]
//   - Sentinel errors for USB protocol failures and uDMX reply codes
//
// # Logging
//
// Every message carries a "component" field; extra arguments are key/value
// pairs that become logrus fields:
//
//	pkg.ParseLogLevel("debug")
//	pkg.LogInfo(pkg.ComponentFirmware, "channel set", "channel", 3, "value", 255)
//
// # Errors
//
// Errors are created with [github.com/pkg/errors] so they carry a stack
// trace; compare against the sentinels with [Is]:
//
//	if pkg.Is(err, pkg.ErrBadChannel) {
//	    // channel out of range
//	}
package pkg
