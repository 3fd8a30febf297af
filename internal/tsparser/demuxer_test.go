package tsparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTSPacket(pid uint16, pusi bool, cc uint8, payload []byte) []byte {
	pkt := make([]byte, 188)
	pkt[0] = syncByte
	b1 := byte(pid >> 8 & 0x1F)
	if pusi {
		b1 |= 0x40
	}
	pkt[1] = b1
	pkt[2] = byte(pid & 0xFF)
	pkt[3] = 0x10 | (cc & 0x0F) // AFC=01 (payload only)

	offset := 4
	if pusi {
		pkt[offset] = 0x00 // pointer field: section starts immediately
		offset++
	}
	n := copy(pkt[offset:], payload)
	for i := offset + n; i < len(pkt); i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

func buildPATSection(tsID uint16, version uint8, programs []ProgramAssociation) []byte {
	body := make([]byte, 0, 8+4*len(programs))
	body = append(body, byte(tsID>>8), byte(tsID))
	body = append(body, 0xC1|((version&0x1F)<<1), 0x00, 0x00) // reserved+version+current_next, section_number, last_section_number
	for _, p := range programs {
		body = append(body, byte(p.ProgramNumber>>8), byte(p.ProgramNumber))
		body = append(body, 0xE0|byte(p.PMTPID>>8), byte(p.PMTPID))
	}

	sectionLength := len(body) + 4 // +CRC
	header := []byte{tableIDPAT, 0x80 | byte(sectionLength>>8&0x0F), byte(sectionLength)}
	section := append(header, body...)
	crc := crc32MPEG2(section)
	section = append(section, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))
	return section
}

func TestParsePacketHeaderFields(t *testing.T) {
	raw := buildTSPacket(0x100, true, 5, []byte{0xAA, 0xBB})
	pkt, err := ParsePacket(raw)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x100), pkt.PID)
	assert.True(t, pkt.PUSI)
	assert.Equal(t, uint8(5), pkt.CC)
	assert.Equal(t, AFCPayloadOnly, pkt.AFC)
}

func TestDiscoverLocksTs188(t *testing.T) {
	buf := append(buildTSPacket(0, true, 0, []byte{0x00}), buildTSPacket(0, false, 1, []byte{0x00})...)
	format, pos := Discover(buf, 0)
	assert.Equal(t, Ts188, format)
	assert.Equal(t, 0, pos)
}

func TestDemuxerParsesSinglePacketPAT(t *testing.T) {
	section := buildPATSection(1, 0, []ProgramAssociation{{ProgramNumber: 1, PMTPID: 0x101}})
	buf := buildTSPacket(0x0000, true, 0, section)

	var gotPAT *PAT
	d := New(Config{ValidateCRC: true}, Handlers{OnPAT: func(pat *PAT) { gotPAT = pat }}, nil)
	require.NoError(t, d.ProcessBuffer(buf))

	require.NotNil(t, gotPAT)
	require.Len(t, gotPAT.Programs, 1)
	assert.Equal(t, uint16(0x101), gotPAT.Programs[0].PMTPID)
	assert.True(t, d.pmtPIDFlags[0x101])
}

func TestDemuxerReassemblesPATAcrossThreePackets(t *testing.T) {
	var programs []ProgramAssociation
	for i := uint16(1); i <= 50; i++ {
		programs = append(programs, ProgramAssociation{ProgramNumber: i, PMTPID: 0x200 + i})
	}
	section := buildPATSection(7, 0, programs)
	require.Greater(t, len(section), 183)

	// Split the section across two TS packets at byte 183: PUSI on the
	// first with pointer 0, the remainder continues with PUSI clear.
	firstPayloadCap := 183
	first := buildTSPacket(0x0000, true, 0, section[:firstPayloadCap])
	second := buildTSPacket(0x0000, false, 1, section[firstPayloadCap:])

	var gotPAT *PAT
	d := New(Config{ValidateCRC: true}, Handlers{OnPAT: func(pat *PAT) { gotPAT = pat }}, nil)
	require.NoError(t, d.ProcessBuffer(append(first, second...)))

	require.NotNil(t, gotPAT)
	assert.Len(t, gotPAT.Programs, 50)
}

func TestDemuxerResyncsAcrossGarbageBetweenPackets(t *testing.T) {
	v0 := buildTSPacket(0x0000, true, 0, buildPATSection(1, 0, []ProgramAssociation{{ProgramNumber: 1, PMTPID: 0x101}}))
	v1 := buildTSPacket(0x0000, true, 1, buildPATSection(1, 1, []ProgramAssociation{{ProgramNumber: 1, PMTPID: 0x101}}))

	// Leading junk, a valid packet, a false sync byte inside garbage, more
	// junk, then a second valid packet. The false 0x47 must not swallow
	// the v1 PAT.
	var buf []byte
	buf = append(buf, 0x00, 0x00, 0x00, 0x00)
	buf = append(buf, v0...)
	buf = append(buf, 0x47, 0x99, 0x88, 0x77, 0x66, 0x55)
	buf = append(buf, 0x00, 0x00, 0x00, 0x00)
	buf = append(buf, v1...)

	var versions []uint8
	d := New(Config{ValidateCRC: true}, Handlers{OnPAT: func(pat *PAT) { versions = append(versions, pat.Version) }}, nil)
	require.NoError(t, d.ProcessBuffer(buf))
	assert.Equal(t, []uint8{0, 1}, versions)
}

func TestDemuxerSkipsUnchangedPATVersion(t *testing.T) {
	section := buildPATSection(1, 3, []ProgramAssociation{{ProgramNumber: 1, PMTPID: 0x101}})
	buf := append(buildTSPacket(0x0000, true, 0, section), buildTSPacket(0x0000, true, 1, section)...)

	calls := 0
	d := New(Config{}, Handlers{OnPAT: func(pat *PAT) { calls++ }}, nil)
	require.NoError(t, d.ProcessBuffer(buf))
	assert.Equal(t, 1, calls)
}

func TestDemuxerRejectsBadCRC(t *testing.T) {
	section := buildPATSection(1, 0, []ProgramAssociation{{ProgramNumber: 1, PMTPID: 0x101}})
	section[len(section)-1] ^= 0xFF // corrupt CRC
	buf := buildTSPacket(0x0000, true, 0, section)

	calls := 0
	d := New(Config{ValidateCRC: true}, Handlers{OnPAT: func(pat *PAT) { calls++ }}, nil)
	require.NoError(t, d.ProcessBuffer(buf))
	assert.Equal(t, 0, calls)
}

func TestContinuityTrackerDetectsDiscontinuity(t *testing.T) {
	tr := newContinuityTracker(ContinuityStrict)
	status, err := tr.Check(0x100, 0, true)
	assert.Equal(t, ContinuityInitial, status)
	assert.NoError(t, err)

	status, err = tr.Check(0x100, 1, true)
	assert.Equal(t, ContinuityOk, status)
	assert.NoError(t, err)

	status, err = tr.Check(0x100, 1, true)
	assert.Equal(t, ContinuityDuplicate, status)
	assert.Error(t, err)

	status, err = tr.Check(0x100, 5, true)
	assert.Equal(t, ContinuityDiscontinuity, status)
	var ce *ContinuityError
	require.ErrorAs(t, err, &ce)
}

func TestContinuityTrackerIgnoresNullPID(t *testing.T) {
	tr := newContinuityTracker(ContinuityStrict)
	status, err := tr.Check(NullPID, 9, true)
	assert.Equal(t, ContinuityOk, status)
	assert.NoError(t, err)
}

func TestHasSCTE35RegistrationDescriptor(t *testing.T) {
	desc := []byte{descriptorTagRegistration, 4, 'C', 'U', 'E', 'I'}
	assert.True(t, hasSCTE35RegistrationDescriptor(desc))
	assert.False(t, hasSCTE35RegistrationDescriptor([]byte{0x09, 2, 0x00, 0x01}))
}

func TestDiscoverLocksM2ts192(t *testing.T) {
	pkt := buildTSPacket(0x0000, true, 0, []byte{0x00})
	frame := append([]byte{0x00, 0x01, 0x02, 0x03}, pkt...)
	buf := append(append([]byte{}, frame...), frame...)
	format, pos := Discover(buf, 0)
	assert.Equal(t, M2ts192, format)
	assert.Equal(t, 0, pos)
}

func TestDiscoverLocksTs204(t *testing.T) {
	pkt := buildTSPacket(0x0000, true, 0, []byte{0x00})
	frame := append(append([]byte{}, pkt...), make([]byte, 16)...)
	buf := append(append([]byte{}, frame...), frame...)
	format, pos := Discover(buf, 0)
	assert.Equal(t, Ts204, format)
	assert.Equal(t, 0, pos)
}
