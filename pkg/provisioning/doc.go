// Package provisioning tracks a device's registration with the
// provisioning service.
//
// Registration.Register submits the registration request and polls the
// returned operation until the service reports a terminal status. Every
// parsable response moves the machine to RECEIVED; a response that cannot
// be parsed moves it to UNKNOWN and is retried. Transport failures are
// classified into *failure.Error and retried by a retry.Policy:
// authentication failures end the registration immediately, transient
// failures are retried up to the configured poll count.
package provisioning
