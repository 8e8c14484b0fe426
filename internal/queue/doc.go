// Package queue plays decoded sentence audio strictly in sequence order.
// Buffers may be submitted in any order; each waits in a pending map until
// the cursor reaches it, and one buffer sounds at a time through a single
// output device.
package queue
