/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package modules

// ChannelDelegate hands outbound messages to the secure channel layer (or the user interface, for dialogs).
// Encryption, routing and retransmission are the delegate's business.
// Once the transaction commits, delivery is at-least-once: recipients must tolerate duplicates.
type ChannelDelegate interface {

	// Post enqueues msg within tx. Implementations must not make the message observable
	// before tx commits, e.g. by deferring the actual hand-off with tx.OnCommit.
	// An error means the message could not be enqueued at all.
	Post(tx Tx, msg *OutboundMessage) error
}
