// Package onkyo talks to Onkyo and Integra A/V receivers over eISCP, the
// Ethernet framing of the Integra Serial Control Protocol (TCP port 60128).
//
// # Protocol
//
// Every message is a 16-byte header followed by an ISCP message:
//
//	"ISCP" | header size (uint32 BE, 16) | data size (uint32 BE) | version 0x01 | 3 reserved
//	"!1" + command (3 chars) + parameter + "\r"
//
// Queries use the parameter "QSTN"; the receiver answers with the same
// command and the current value, e.g. "PWRQSTN" → "PWR01". The receiver
// also pushes unsolicited status messages whenever its state changes
// (front panel, remote, another controller).
//
// # Client
//
// Client keeps one lazily dialled connection per receiver. A receive loop
// routes replies to waiting queries by their three-letter command. Calls
// are paced by a rate limiter, since receivers drop frames sent in quick
// succession, and guarded by a circuit breaker so a dead receiver fails
// fast instead of stalling every poll on the dial timeout.
//
// Client implements receiver.Client.
package onkyo
