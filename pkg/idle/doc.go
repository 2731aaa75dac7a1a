/*
Package idle tracks the idle/sleep lifecycle of worker nodes and accounts
for the cost saved while they are asleep.

	Active ──markIdle──▶ Idle ──timeout, auto-sleep──▶ Sleeping
	Sleeping ──wake (floor met)──▶ Waking ──wake-up delay──▶ Active
	Idle|Sleeping|Waking ──markActive──▶ Active

A node must stay asleep at least the minimum sleep duration before Wake is
accepted; shorter sleeps would burn the wake-up cost for no savings. Waking
is asynchronous: the node reaches Active after the configured wake-up delay,
unless MarkActive claims it first.

Savings accrue when a sleep segment closes: for a segment of length d,
round((d_ms / 3 600 000) * costPerHourCents) is added. GetTotalSavings also
counts the open segment of any node still asleep, so the reported total is
monotonically non-decreasing across registrations and removals.

CheckIdleNodes sweeps auto-sleep nodes past the idle timeout into Sleeping;
StartIdleCheck runs the sweep periodically. Each transition publishes a
node.* event.
*/
package idle
