// Package persistence stores the outcome of device registration so a
// restarted device can reconnect to its assigned hub without provisioning
// again.
package persistence
