/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package store

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	t "github.com/e2ee/protoengine/pkg/types"
)

// Key prefixes. Every record kind lives under its own prefix.
var (
	instancePrefix    = []byte("pi/")
	waiterPrefix      = []byte("w/")
	waiterIndexPrefix = []byte("wi/")
	appliedPrefix     = []byte("ja/")
)

// keyBuilder assembles binary keys. Variable-length components are length-prefixed,
// so that no key is a prefix of a key with different components.
type keyBuilder struct {
	buf []byte
	err error
}

func newKey(prefix []byte) *keyBuilder {
	kb := &keyBuilder{buf: make([]byte, 0, 128)}
	kb.buf = append(kb.buf, prefix...)
	return kb
}

func (kb *keyBuilder) uint32(v uint32) *keyBuilder {
	kb.buf = binary.BigEndian.AppendUint32(kb.buf, v)
	return kb
}

func (kb *keyBuilder) uint64(v uint64) *keyBuilder {
	kb.buf = binary.BigEndian.AppendUint64(kb.buf, v)
	return kb
}

// trust encodes a trust level so that the byte order matches the numeric order.
func (kb *keyBuilder) trust(level t.TrustLevel) *keyBuilder {
	return kb.uint64(uint64(int64(level)) ^ (1 << 63))
}

func (kb *keyBuilder) uid(uid t.UID) *keyBuilder {
	kb.buf = append(kb.buf, uid[:]...)
	return kb
}

func (kb *keyBuilder) identity(id t.Identity) *keyBuilder {
	if len(id) > math.MaxUint16 {
		kb.err = errors.Errorf("identity too long for a key: %d bytes", len(id))
		return kb
	}
	kb.buf = binary.BigEndian.AppendUint16(kb.buf, uint16(len(id)))
	kb.buf = append(kb.buf, id...)
	return kb
}

func (kb *keyBuilder) bytes() ([]byte, error) {
	return kb.buf, kb.err
}

// keyReader is the inverse of keyBuilder.
type keyReader struct {
	buf []byte
	err error
}

func readKey(key, prefix []byte) *keyReader {
	if len(key) < len(prefix) {
		return &keyReader{err: errors.New("key shorter than its prefix")}
	}
	return &keyReader{buf: key[len(prefix):]}
}

func (kr *keyReader) take(n int) []byte {
	if kr.err != nil {
		return nil
	}
	if len(kr.buf) < n {
		kr.err = errors.Errorf("truncated key: need %d bytes, have %d", n, len(kr.buf))
		return nil
	}
	b := kr.buf[:n]
	kr.buf = kr.buf[n:]
	return b
}

func (kr *keyReader) uint32() uint32 {
	b := kr.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (kr *keyReader) uint64() uint64 {
	b := kr.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (kr *keyReader) trust() t.TrustLevel {
	return t.TrustLevel(int64(kr.uint64() ^ (1 << 63)))
}

func (kr *keyReader) uid() t.UID {
	var uid t.UID
	copy(uid[:], kr.take(t.UIDLen))
	return uid
}

func (kr *keyReader) identity() t.Identity {
	b := kr.take(2)
	if b == nil {
		return ""
	}
	return t.Identity(kr.take(int(binary.BigEndian.Uint16(b))))
}

// done fails if the key has not been consumed entirely.
func (kr *keyReader) done() error {
	if kr.err == nil && len(kr.buf) != 0 {
		kr.err = errors.Errorf("%d trailing key bytes", len(kr.buf))
	}
	return kr.err
}

// ================================================================================

func instanceKey(id t.InstanceID) ([]byte, error) {
	return newKey(instancePrefix).uint32(uint32(id.Protocol)).uid(id.UID).identity(id.Owned).bytes()
}

func parseInstanceKey(key []byte) (t.InstanceID, error) {
	kr := readKey(key, instancePrefix)
	id := t.InstanceID{
		Protocol: t.ProtocolKind(kr.uint32()),
		UID:      kr.uid(),
		Owned:    kr.identity(),
	}
	return id, kr.done()
}
