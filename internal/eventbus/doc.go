// ABOUTME: Package eventbus is an ordered, resumable, ring-buffered fan-out bus
// ABOUTME: Subscribers replay missed events by id or resync when they fall off the retained horizon

package eventbus
