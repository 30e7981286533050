// Package protocol owns the frame bridge wire contract.
//
// Ownership boundary:
// - error taxonomy shared by the frame reader, action encoder and session loop
// - frame/ length-prefixed image payload primitives
// - action/ one-byte controller response primitives
//
// Wire contract:
//
//	request:  [9-byte ASCII decimal length N][N bytes compressed image]
//	response: [1 byte action, bit 0 (MSB) = A, bit 1 = left, bit 2 = right]
package protocol
