// Package chat defines the neutral protocol shared by drivers, the kernel, and
// modules: inbound events, outbound requests, capabilities, and the service
// registry contract.
package chat
