/*
Package health provides reachability probing for node endpoints. A TCPChecker
dials a node's gRPC address and reports whether the connection succeeded, and
a Status tracker applies hysteresis (N consecutive failures before declaring a
node offline) so a single dropped probe doesn't flip a node's state. No
other package calls it: nodeclient.Client.Connect dials without probing.
*/
package health
