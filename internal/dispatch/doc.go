// Package dispatch runs the per-bot dispatch loop.
//
// A Dispatcher owns the resolved command list of one bot and consumes that
// bot's update stream strictly in arrival order. Each update is matched,
// expanded, executed and turned into a reply before the next update is read.
// Replies are sent in the background so a slow Bot API call never delays the
// next update.
//
// Message updates:
//   - first matching command wins
//   - arguments are expanded from the pattern's capture groups
//   - one process run, one reply
//
// Inline queries:
//   - the command is run once per offset via inline.Paginate
//   - ${offset} in args expands to the offset of each run
//   - non-empty outputs become one answerInlineQuery request
//
// Error handling:
//   - no matching command: dropped at DEBUG
//   - spawn, I/O, decode, timeout: logged, no reply
//   - send failure: logged, never retried
//   - handler panic: recovered and logged, the loop continues
//
// Every outcome is published to the events hub for the monitor.
package dispatch
