package schema

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// ProtocolVersion names the wire layout. Changing any layout constant means
// bumping it so the default fingerprints change too.
const ProtocolVersion = "tlvlink/1"

// Compatibility is the set of constants a peer must match before it may
// exchange application messages.
type Compatibility struct {
	Signature    uint16
	ProtocolHash string
	WorkflowHash string
}

// Default fingerprints the well-known handshake surface.
var Default = NewCompatibility(
	Fingerprint(ProtocolVersion, "SelfKey=1", "SelfKeyResponse=2", "HashRequest=3", "HashResponse=4"),
	Fingerprint(ProtocolVersion, "handshake:self-key,hash-request"),
)

func NewCompatibility(protocolHash, workflowHash string) Compatibility {
	return Compatibility{
		Signature:    SignatureOf(protocolHash),
		ProtocolHash: protocolHash,
		WorkflowHash: workflowHash,
	}
}

// Fingerprint hashes parts with blake3 and returns the lowercase hex digest.
// Parts are NUL separated so ("ab","c") and ("a","bc") differ.
func Fingerprint(parts ...string) string {
	h := blake3.New()
	for i, p := range parts {
		if i > 0 {
			_, _ = h.Write([]byte{0})
		}
		_, _ = h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SignatureOf derives the envelope signature from a protocol hash: the first
// two digest bytes, little-endian. Non-hex hashes are fingerprinted first.
func SignatureOf(protocolHash string) uint16 {
	raw, err := hex.DecodeString(protocolHash)
	if err != nil || len(raw) < 2 {
		raw, _ = hex.DecodeString(Fingerprint(protocolHash))
	}
	return binary.LittleEndian.Uint16(raw[:2])
}
