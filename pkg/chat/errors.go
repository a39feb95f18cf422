package chat

import "errors"

var (
	// ErrInvalidEvent indicates that an event does not satisfy protocol invariants.
	ErrInvalidEvent = errors.New("chat: invalid event")
	// ErrInvalidSubscription indicates that a subscription configuration is invalid.
	ErrInvalidSubscription = errors.New("chat: invalid subscription")
	// ErrSubscriptionClosed indicates that a subscription is no longer active.
	ErrSubscriptionClosed = errors.New("chat: subscription closed")
	// ErrEventDropped indicates a non-blocking backpressure drop.
	ErrEventDropped = errors.New("chat: event dropped due to backpressure")
	// ErrServiceAlreadyRegistered indicates duplicate service registration.
	ErrServiceAlreadyRegistered = errors.New("chat: service already registered")
	// ErrServiceNotFound indicates a service lookup miss.
	ErrServiceNotFound = errors.New("chat: service not found")
	// ErrServiceTypeMismatch indicates a service registered under an
	// unexpected type.
	ErrServiceTypeMismatch = errors.New("chat: service type mismatch")
	// ErrModuleAlreadyRegistered indicates duplicate module registration.
	ErrModuleAlreadyRegistered = errors.New("chat: module already registered")
	// ErrDriverAlreadyRegistered indicates duplicate driver registration.
	ErrDriverAlreadyRegistered = errors.New("chat: driver already registered")
	// ErrInvalidOutboundRequest indicates a malformed outbound request.
	ErrInvalidOutboundRequest = errors.New("chat: invalid outbound request")
	// ErrOutboundUnsupported indicates no sink can serve an outbound request.
	ErrOutboundUnsupported = errors.New("chat: outbound operation unsupported")
)
