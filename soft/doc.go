// Package soft is a software authentication platform: a simulated biometric
// sensor and a device-credential prompt backed by Redis.
//
// It plays the role a mobile OS plays for the controller. Enrolled templates,
// the device credential hash and the enrollment epoch live in Redis;
// consecutive failures feed a lockout ledger; every successful
// authentication yields a signed single-operation token from authtoken.
//
// Input is injected by the host (a CLI, a test, a bridge to real hardware)
// through [Platform.Touch], [Platform.SubmitCredential], [Platform.Acquire],
// [Platform.UserCancel] and [Platform.Fault]. Callbacks for those inputs run
// on the caller's goroutine; cancellation and timeouts are delivered from
// their own goroutines, as a real sensor driver would.
package soft
