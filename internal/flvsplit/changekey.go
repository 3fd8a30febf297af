package flvsplit

import "hash/crc32"

// ChangeKeyMode selects how a sequence header's change key is computed.
type ChangeKeyMode int

const (
	// Crc32 hashes the entire tag body; byte-sensitive, flags any change
	// including ones that don't alter the decoded configuration (padding,
	// reordered descriptors).
	Crc32 ChangeKeyMode = iota

	// SemanticSignature hashes only the bytes that affect decoding,
	// skipping packet-type/composition-time/legacy-header bits that can
	// legitimately vary between otherwise-identical sequence headers.
	SemanticSignature
)

// computeChangeKey returns the 32-bit change key for a sequence header tag
// under the configured mode.
func computeChangeKey(tag Tag, mode ChangeKeyMode) uint32 {
	if mode == Crc32 {
		return crc32.ChecksumIEEE(tag.Data)
	}
	switch tag.Type {
	case TagVideo:
		return videoSemanticSignature(tag.Data)
	case TagAudio:
		return audioSemanticSignature(tag.Data)
	default:
		return crc32.ChecksumIEEE(tag.Data)
	}
}

// videoSemanticSignature hashes the codec-identifying bytes of a video
// sequence header, skipping the packet type and composition time fields
// that carry no codec-configuration information.
func videoSemanticSignature(data []byte) uint32 {
	if len(data) == 0 {
		return 0
	}
	if data[0]&0x80 != 0 {
		// Enhanced: fourcc occupies bytes [1:5], config payload starts at 5.
		if len(data) < 5 {
			return crc32.ChecksumIEEE(data)
		}
		h := crc32.NewIEEE()
		_, _ = h.Write(data[1:5])
		if len(data) > 5 {
			_, _ = h.Write(data[5:])
		}
		return h.Sum32()
	}
	// Legacy: codec_id is the low nibble of byte 0; config payload starts
	// at byte 5 (after AVCPacketType + 3-byte composition time).
	codecID := data[0] & 0x0F
	h := crc32.NewIEEE()
	_, _ = h.Write([]byte{codecID})
	if len(data) > 5 {
		_, _ = h.Write(data[5:])
	}
	return h.Sum32()
}

// audioSemanticSignature hashes the codec-identifying bytes of an audio
// sequence header, skipping the legacy rate/size/type header bits and the
// AAC packet-type byte.
func audioSemanticSignature(data []byte) uint32 {
	if len(data) == 0 {
		return 0
	}
	soundFormat := (data[0] >> 4) & 0x0F
	h := crc32.NewIEEE()
	_, _ = h.Write([]byte{soundFormat})
	if len(data) > 2 {
		_, _ = h.Write(data[2:])
	}
	return h.Sum32()
}
