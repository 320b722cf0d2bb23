/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package modules defines the interfaces of the collaborators the protocol engine relies on
// and the envelopes of messages exchanged with them.
package modules

// Modules bundles the collaborators used by a protocol runtime.
// A nil collaborator is legal: steps that need it terminate their instance instead of progressing.
type Modules struct {
	Channel  ChannelDelegate
	Identity IdentityDelegate
}
