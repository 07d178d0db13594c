package device

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
)

// Fingerprint is an opaque digest of a configuration, used to detect edits
// based on a stale copy.
type Fingerprint string

// FingerprintOf digests the identity of m (MAC, board type, project, enabled
// flag) and its full device graph. Order is significant at every level. The
// IP address and timestamps are left out: they change without any edit.
func FingerprintOf(m KnownMicrocontroller) Fingerprint {
	h := sha256.New()
	writeField(h, "mc")
	writeField(h, m.MAC)
	writeField(h, m.BoardType)
	writeField(h, m.ProjectName)
	writeBool(h, m.Enabled)
	writeDevices(h, m.Devices)
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// FingerprintDevices digests a device list alone. Two snapshots are
// structurally identical exactly when their fingerprints match.
func FingerprintDevices(devices []ConnectedDevice) Fingerprint {
	h := sha256.New()
	writeField(h, "devices")
	writeDevices(h, devices)
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

func writeDevices(h hash.Hash, devices []ConnectedDevice) {
	writeInt(h, len(devices))
	for _, d := range devices {
		writeBool(h, d.Enabled)
		writeField(h, d.Type)
		writeInt(h, len(d.Pins))
		for _, p := range d.Pins {
			writeInt(h, p.GPIO)
			writeField(h, p.Name)
			writeBool(h, p.ReadOnly)
		}
		writeInt(h, len(d.Properties))
		for _, p := range d.Properties {
			writeField(h, p.Name)
			writeField(h, p.Value)
		}
	}
}

// writeField length-prefixes s so that ("ab","c") and ("a","bc") differ.
func writeField(h hash.Hash, s string) {
	writeInt(h, len(s))
	h.Write([]byte(s)) //nolint:errcheck // hash writes never fail
}

func writeInt(h hash.Hash, n int) {
	var buf [binary.MaxVarintLen64]byte
	h.Write(buf[:binary.PutVarint(buf[:], int64(n))]) //nolint:errcheck // hash writes never fail
}

func writeBool(h hash.Hash, b bool) {
	v := byte(0)
	if b {
		v = 1
	}
	h.Write([]byte{v}) //nolint:errcheck // hash writes never fail
}
