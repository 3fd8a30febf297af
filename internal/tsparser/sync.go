package tsparser

// SyncDiscoverer locates the packet format of a TS byte stream. It tries
// all three variants simultaneously and requires a second sync byte at
// sync_pos + packet_size (two-packet verification) before locking, unless
// the buffer ends first.
type SyncDiscoverer struct {
	locked PacketFormat
	pos    int // byte offset of the first sync byte once locked
}

// candidateFormats in the order they are tried when searching for sync.
var candidateFormats = []PacketFormat{Ts188, M2ts192, Ts204}

// Discover scans buf for a locked packet format starting at startOffset. It
// returns the format and the absolute offset of the first sync byte, or
// FormatUnknown if no candidate could be verified within buf.
func Discover(buf []byte, startOffset int) (PacketFormat, int) {
	for pos := startOffset; pos < len(buf); pos++ {
		for _, format := range candidateFormats {
			syncPos := pos + format.syncOffset()
			if syncPos >= len(buf) || buf[syncPos] != syncByte {
				continue
			}
			frameSize := format.PacketSize()
			nextSync := syncPos + frameSize
			if nextSync >= len(buf) {
				// Buffer ends before a second sync byte can be checked;
				// accept the candidate provisionally.
				return format, pos
			}
			if buf[nextSync] == syncByte {
				return format, pos
			}
		}
	}
	return FormatUnknown, -1
}

// Lock fixes the discoverer onto format at absolute offset pos.
func (d *SyncDiscoverer) Lock(format PacketFormat, pos int) {
	d.locked = format
	d.pos = pos
}

// Locked reports the currently locked format, or FormatUnknown.
func (d *SyncDiscoverer) Locked() PacketFormat {
	return d.locked
}

// Reset clears the lock, forcing re-discovery on the next call.
func (d *SyncDiscoverer) Reset() {
	d.locked = FormatUnknown
	d.pos = 0
}
