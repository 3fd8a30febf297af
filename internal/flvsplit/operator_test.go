package flvsplit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(data []FlvData) []FlvDataKind {
	out := make([]FlvDataKind, len(data))
	for i, d := range data {
		out[i] = d.Kind
	}
	return out
}

func countHeaders(data []FlvData) int {
	n := 0
	for _, d := range data {
		if d.Kind == KindHeader {
			n++
		}
	}
	return n
}

func TestOperator_NoChange_EmitsSingleHeaderAndPassesMediaThrough(t *testing.T) {
	op := New(Config{ChangeKeyMode: SemanticSignature})

	videoSeq := Tag{Type: TagVideo, Data: []byte{0x17, 0x00, 0x00, 0x00, 0x00, 0x01, 0x64, 0x00, 0x28}}
	media1 := Tag{Type: TagVideo, Timestamp: 10, Data: []byte{0x27, 0x01, 0x00, 0x00, 0x00, 0xAA}}
	media2 := Tag{Type: TagVideo, Timestamp: 20, Data: []byte{0x27, 0x01, 0x00, 0x00, 0x00, 0xBB}}

	var all []FlvData
	out, err := op.Process(FlvData{Kind: KindHeader, Header: []byte{'F', 'L', 'V'}}, nil)
	require.NoError(t, err)
	all = append(all, out...)

	out, err = op.Process(FlvData{Kind: KindTag, Tag: videoSeq}, nil)
	require.NoError(t, err)
	all = append(all, out...)

	out, err = op.Process(FlvData{Kind: KindTag, Tag: media1}, nil)
	require.NoError(t, err)
	all = append(all, out...)

	out, err = op.Process(FlvData{Kind: KindTag, Tag: media2}, nil)
	require.NoError(t, err)
	all = append(all, out...)

	assert.Equal(t, 1, countHeaders(all))
	assert.Equal(t, 4, len(all))
}

// TestOperator_SemanticSignatureIgnoresCTS reproduces spec scenario 3: a
// video sequence header followed by a second "sequence header" that only
// differs in frame-type and composition-time bits must NOT be treated as a
// codec change under SemanticSignature mode.
func TestOperator_SemanticSignatureIgnoresCTS(t *testing.T) {
	op := New(Config{ChangeKeyMode: SemanticSignature})

	header := []byte{'F', 'L', 'V', 1}
	videoSeq := Tag{Type: TagVideo, Data: []byte{0x17, 0x00, 0x00, 0x00, 0x00, 0x01, 0x64, 0x00, 0x28}}
	sameConfigDifferentFrameAndCTS := Tag{Type: TagVideo, Data: []byte{0x27, 0x00, 0x12, 0x34, 0x56, 0x01, 0x64, 0x00, 0x28}}
	media := Tag{Type: TagVideo, Timestamp: 10, Data: []byte{0x27, 0x01, 0x00, 0x00, 0x00, 0xAA}}

	var all []FlvData
	step := func(d FlvData) {
		out, err := op.Process(d, nil)
		require.NoError(t, err)
		all = append(all, out...)
	}

	step(FlvData{Kind: KindHeader, Header: header})
	step(FlvData{Kind: KindTag, Tag: videoSeq})
	step(FlvData{Kind: KindTag, Tag: media})
	// "same config, different frame-type and CTS" is itself flagged as a
	// sequence header by IsSequenceHeader (AVCPacketType byte == 0); the
	// change-key comparison is what must treat it as unchanged.
	step(FlvData{Kind: KindTag, Tag: sameConfigDifferentFrameAndCTS})
	step(FlvData{Kind: KindTag, Tag: media})

	assert.Equal(t, 1, countHeaders(all), "semantic signature must ignore packet-type/CTS bits")
}

func TestOperator_Crc32ModeFlagsByteLevelChange(t *testing.T) {
	op := New(Config{ChangeKeyMode: Crc32})

	videoSeq := Tag{Type: TagVideo, Data: []byte{0x17, 0x00, 0x00, 0x00, 0x00, 0x01, 0x64, 0x00, 0x28}}
	sameConfigDifferentFrameAndCTS := Tag{Type: TagVideo, Data: []byte{0x27, 0x00, 0x12, 0x34, 0x56, 0x01, 0x64, 0x00, 0x28}}
	media := Tag{Type: TagVideo, Timestamp: 10, Data: []byte{0x27, 0x01, 0x00, 0x00, 0x00, 0xAA}}

	var all []FlvData
	step := func(d FlvData) {
		out, err := op.Process(d, nil)
		require.NoError(t, err)
		all = append(all, out...)
	}

	step(FlvData{Kind: KindHeader, Header: []byte{'F', 'L', 'V'}})
	step(FlvData{Kind: KindTag, Tag: videoSeq})
	step(FlvData{Kind: KindTag, Tag: media})
	step(FlvData{Kind: KindTag, Tag: sameConfigDifferentFrameAndCTS})
	step(FlvData{Kind: KindTag, Tag: media})

	assert.Equal(t, 2, countHeaders(all), "crc32 mode is byte-sensitive and must split on any byte difference")
}

func TestOperator_RealChange_SplitsAndReemitsPreamble(t *testing.T) {
	op := New(Config{ChangeKeyMode: SemanticSignature})

	header := []byte{'F', 'L', 'V'}
	script := Tag{Type: TagScript, Timestamp: 0, Data: []byte("onMetaData")}
	videoSeqA := Tag{Type: TagVideo, Data: []byte{0x17, 0x00, 0x00, 0x00, 0x00, 0x01, 0x64, 0x00, 0x28}}
	videoSeqB := Tag{Type: TagVideo, Data: []byte{0x17, 0x00, 0x00, 0x00, 0x00, 0x02, 0x77, 0x00, 0x29}}
	media := Tag{Type: TagVideo, Timestamp: 100, Data: []byte{0x27, 0x01, 0x00, 0x00, 0x00, 0xAA}}

	var all []FlvData
	step := func(d FlvData) {
		out, err := op.Process(d, nil)
		require.NoError(t, err)
		all = append(all, out...)
	}

	step(FlvData{Kind: KindHeader, Header: header})
	step(FlvData{Kind: KindTag, Tag: script})
	step(FlvData{Kind: KindTag, Tag: videoSeqA})
	step(FlvData{Kind: KindTag, Tag: media})   // first media tag emitted, debounce cleared
	step(FlvData{Kind: KindTag, Tag: videoSeqB}) // genuine codec change, must not emit yet
	step(FlvData{Kind: KindTag, Tag: media})   // triggers the split

	require.Equal(t, 2, countHeaders(all), "exactly one original header plus one re-injected header")

	// Find the second header and verify the preamble ordering that follows:
	// header, metadata, video seq, (no audio seq), media.
	secondHeaderIdx := -1
	seen := 0
	for i, d := range all {
		if d.Kind == KindHeader {
			seen++
			if seen == 2 {
				secondHeaderIdx = i
				break
			}
		}
	}
	// The script tag arrived before the split was pending, so it was
	// emitted and cached; the preamble re-emits that cached metadata after
	// the re-injected header, followed by the new video sequence header.
	require.NotEqual(t, -1, secondHeaderIdx)
	require.Less(t, secondHeaderIdx+2, len(all))
	assert.Equal(t, KindTag, all[secondHeaderIdx+1].Kind)
	assert.Equal(t, TagScript, all[secondHeaderIdx+1].Tag.Type)
	assert.Equal(t, TagVideo, all[secondHeaderIdx+2].Tag.Type)
}

func TestOperator_DropDuplicateSequenceHeaders(t *testing.T) {
	op := New(Config{ChangeKeyMode: SemanticSignature, DropDuplicateSequenceHeaders: true})

	videoSeq := Tag{Type: TagVideo, Data: []byte{0x17, 0x00, 0x00, 0x00, 0x00, 0x01, 0x64, 0x00, 0x28}}
	duplicate := Tag{Type: TagVideo, Data: []byte{0x17, 0x00, 0x00, 0x00, 0x00, 0x01, 0x64, 0x00, 0x28}}

	var all []FlvData
	step := func(d FlvData) {
		out, err := op.Process(d, nil)
		require.NoError(t, err)
		all = append(all, out...)
	}

	step(FlvData{Kind: KindHeader, Header: []byte{'F'}})
	step(FlvData{Kind: KindTag, Tag: videoSeq})
	step(FlvData{Kind: KindTag, Tag: duplicate})

	// Duplicate sequence header swallowed: header + one seq tag only.
	assert.Equal(t, []FlvDataKind{KindHeader, KindTag}, kinds(all))
}

func TestOperator_EndOfSequenceFlushesPendingSplitWithoutHeader(t *testing.T) {
	op := New(Config{ChangeKeyMode: SemanticSignature})

	videoSeqA := Tag{Type: TagVideo, Data: []byte{0x17, 0x00, 0x00, 0x00, 0x00, 0x01, 0x64, 0x00, 0x28}}
	videoSeqB := Tag{Type: TagVideo, Data: []byte{0x17, 0x00, 0x00, 0x00, 0x00, 0x02, 0x77, 0x00, 0x29}}
	media := Tag{Type: TagVideo, Timestamp: 5, Data: []byte{0x27, 0x01, 0x00, 0x00, 0x00, 0xAA}}

	var all []FlvData
	step := func(d FlvData) {
		out, err := op.Process(d, nil)
		require.NoError(t, err)
		all = append(all, out...)
	}

	step(FlvData{Kind: KindHeader, Header: []byte{'F'}})
	step(FlvData{Kind: KindTag, Tag: videoSeqA})
	step(FlvData{Kind: KindTag, Tag: media})
	step(FlvData{Kind: KindTag, Tag: videoSeqB}) // pending split, buffered
	step(FlvData{Kind: KindEndOfSequence})

	assert.Equal(t, 1, countHeaders(all), "flush on EndOfSequence must never inject a duplicated header")
	last := all[len(all)-1]
	assert.Equal(t, KindTag, last.Kind)
	assert.Equal(t, TagVideo, last.Tag.Type)
}

func TestOperator_Cancellation(t *testing.T) {
	op := New(Config{})
	_, err := op.Process(FlvData{Kind: KindHeader}, func() bool { return true })
	assert.Equal(t, CancelledError{}, err)
}

func TestParseAACSequenceHeader(t *testing.T) {
	// Sound format AAC (10) in the top nibble, AACPacketType 0, then an
	// AudioSpecificConfig for AAC-LC 44.1 kHz stereo (0x12 0x10).
	cfg, err := ParseAACSequenceHeader([]byte{0xAF, 0x00, 0x12, 0x10})
	require.NoError(t, err)
	assert.Equal(t, 44100, cfg.SampleRate)
	assert.Equal(t, 2, cfg.ChannelCount)
}

func TestParseAACSequenceHeader_RejectsNonAAC(t *testing.T) {
	// Sound format 2 (MP3) is not an AAC sequence header.
	_, err := ParseAACSequenceHeader([]byte{0x2F, 0x00, 0x12, 0x10})
	require.Error(t, err)
}

func TestParseAACSequenceHeader_RejectsShortData(t *testing.T) {
	_, err := ParseAACSequenceHeader([]byte{0xAF, 0x00})
	require.Error(t, err)
}
