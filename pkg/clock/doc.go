/*
Package clock provides the injectable time source used across Flotilla.

Components never call time.Now or time.AfterFunc directly; they take a
clock.Clock so tests can drive idle timeouts, TTL expiry, failback delays and
wake-up transitions deterministically with a Fake advanced by hand.
*/
package clock
