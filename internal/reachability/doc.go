// Package reachability answers "is the receiver on the network at all?"
// before the synchronizer spends four query timeouts finding out.
//
// Two probes are provided:
//   - TCPProber connects to a port (normally the eISCP port) and closes.
//   - HTTPProber issues a GET to the receiver's built-in web server; any
//     HTTP response counts as reachable.
//
// There is no ICMP probe; raw sockets need elevated privileges.
package reachability
