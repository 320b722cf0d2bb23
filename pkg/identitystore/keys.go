/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package identitystore

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	t "github.com/e2ee/protoengine/pkg/types"
)

var (
	devicePrefix  = []byte("id/dev/")
	contactPrefix = []byte("id/contact/")
	groupPrefix   = []byte("id/group/")
)

// key concatenates the prefix and the length-prefixed parts.
func key(prefix []byte, parts ...[]byte) ([]byte, error) {
	size := len(prefix)
	for _, p := range parts {
		size += 2 + len(p)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, p := range parts {
		if len(p) > math.MaxUint16 {
			return nil, errors.Errorf("key part too long: %d bytes", len(p))
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(p)))
		buf = append(buf, p...)
	}
	return buf, nil
}

// lastPart returns the last length-prefixed part of a key built by key with the given prefix and leading parts.
func lastPart(k []byte, prefixLen int) ([]byte, error) {
	if len(k) < prefixLen+2 {
		return nil, errors.New("truncated key")
	}
	rest := k[prefixLen:]
	n := int(binary.BigEndian.Uint16(rest))
	if len(rest) != 2+n {
		return nil, errors.Errorf("bad key part length %d", n)
	}
	return rest[2:], nil
}

func deviceKey(owned t.Identity, device t.UID) ([]byte, error) {
	return key(devicePrefix, owned.Bytes(), device[:])
}

func contactKey(owned, contact t.Identity) ([]byte, error) {
	return key(contactPrefix, owned.Bytes(), contact.Bytes())
}

func groupKey(owned, owner t.Identity, uid t.UID) ([]byte, error) {
	return key(groupPrefix, owned.Bytes(), owner.Bytes(), uid[:])
}
