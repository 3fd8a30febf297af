package flvsplit

// Config controls change-key computation and duplicate handling.
type Config struct {
	ChangeKeyMode                ChangeKeyMode
	DropDuplicateSequenceHeaders bool
}

// streamState tracks the most recent tags and cached change keys needed to
// decide when a codec change warrants a split.
type streamState struct {
	header   []byte
	script   *Tag
	audioSeq *Tag
	videoSeq *Tag

	hasAudioKey bool
	audioKey    uint32
	hasVideoKey bool
	videoKey    uint32

	hasEmittedMediaTag bool
	changed            bool

	bufferedScript   *Tag
	bufferedAudioSeq *Tag
	bufferedVideoSeq *Tag
}

// Operator implements the FLV split state machine described in this
// package's doc comment. It is not safe for concurrent use.
type Operator struct {
	cfg   Config
	state streamState
}

// New constructs an Operator.
func New(cfg Config) *Operator {
	return &Operator{cfg: cfg}
}

// CancelFunc reports whether an external cancellation has fired.
type CancelFunc func() bool

// Process consumes one FlvData item and returns zero or more FlvData items
// to emit downstream, in order. cancel is polled before any work is done;
// if it returns true, Process returns CancelledError{} and no output.
func (op *Operator) Process(in FlvData, cancel CancelFunc) ([]FlvData, error) {
	if cancel != nil && cancel() {
		return nil, CancelledError{}
	}

	switch in.Kind {
	case KindHeader:
		op.reset()
		op.state.header = in.Header
		return []FlvData{in}, nil

	case KindEndOfSequence:
		return op.flushPendingSplit(), nil

	case KindTag:
		return op.processTag(in.Tag), nil
	}
	return nil, nil
}

// Finish flushes any pending split state at end of stream (no EndOfSequence
// marker arrived). Never emits a duplicated Header.
func (op *Operator) Finish() []FlvData {
	return op.flushPendingSplit()
}

func (op *Operator) reset() {
	op.state = streamState{}
}

func (op *Operator) processTag(tag Tag) []FlvData {
	switch tag.Type {
	case TagScript:
		return op.processAncillary(tag, func(t *Tag) { op.state.script = t }, func(t *Tag) { op.state.bufferedScript = t })

	case TagAudio, TagVideo:
		if tag.IsSequenceHeader() {
			return op.processSequenceHeader(tag)
		}
		return op.processMediaTag(tag)
	}
	return nil
}

// processAncillary handles the script (onMetaData) tag: buffered verbatim
// while a split is pending, otherwise cached and emitted immediately.
func (op *Operator) processAncillary(tag Tag, setCache func(*Tag), setBuffered func(*Tag)) []FlvData {
	if op.state.changed {
		t := tag
		setBuffered(&t)
		return nil
	}
	t := tag
	setCache(&t)
	return []FlvData{{Kind: KindTag, Tag: tag}}
}

func (op *Operator) processSequenceHeader(tag Tag) []FlvData {
	if op.state.changed {
		// A split is already pending: buffer and retain, never emit before
		// the next media tag.
		t := tag
		if tag.Type == TagAudio {
			op.state.bufferedAudioSeq = &t
		} else {
			op.state.bufferedVideoSeq = &t
		}
		return nil
	}

	key := computeChangeKey(tag, op.cfg.ChangeKeyMode)

	var hadKey bool
	var prevKey uint32
	if tag.Type == TagAudio {
		hadKey, prevKey = op.state.hasAudioKey, op.state.audioKey
	} else {
		hadKey, prevKey = op.state.hasVideoKey, op.state.videoKey
	}

	identical := hadKey && prevKey == key
	if identical && op.cfg.DropDuplicateSequenceHeaders {
		return nil
	}

	if hadKey && !identical && op.state.hasEmittedMediaTag {
		// Debounced genuine codec change: mark a pending split and buffer
		// the new header without emitting it yet.
		op.state.changed = true
		t := tag
		if tag.Type == TagAudio {
			op.state.bufferedAudioSeq = &t
		} else {
			op.state.bufferedVideoSeq = &t
		}
		return nil
	}

	// First sighting, or a change before any media tag has emitted
	// (initial negotiation): update cache and emit normally.
	if tag.Type == TagAudio {
		op.state.hasAudioKey = true
		op.state.audioKey = key
		t := tag
		op.state.audioSeq = &t
	} else {
		op.state.hasVideoKey = true
		op.state.videoKey = key
		t := tag
		op.state.videoSeq = &t
	}
	return []FlvData{{Kind: KindTag, Tag: tag}}
}

func (op *Operator) processMediaTag(tag Tag) []FlvData {
	var out []FlvData
	if op.state.changed {
		out = append(out, op.emitSplitPreamble()...)
	}
	op.state.hasEmittedMediaTag = true
	out = append(out, FlvData{Kind: KindTag, Tag: tag})
	return out
}

// emitSplitPreamble emits the cached Header, metadata, video seq, and audio
// seq tags (in that order) using their original timestamps, then clears the
// pending-split buffers. A tag buffered during the pending split replaces
// the cached one of its kind.
func (op *Operator) emitSplitPreamble() []FlvData {
	var out []FlvData
	if op.state.header != nil {
		out = append(out, FlvData{Kind: KindHeader, Header: op.state.header})
	}
	if op.state.bufferedScript != nil {
		out = append(out, FlvData{Kind: KindTag, Tag: *op.state.bufferedScript})
		op.state.script = op.state.bufferedScript
		op.state.bufferedScript = nil
	} else if op.state.script != nil {
		out = append(out, FlvData{Kind: KindTag, Tag: *op.state.script})
	}
	if op.state.bufferedVideoSeq != nil {
		out = append(out, FlvData{Kind: KindTag, Tag: *op.state.bufferedVideoSeq})
		op.state.videoSeq = op.state.bufferedVideoSeq
		op.state.hasVideoKey = true
		op.state.videoKey = computeChangeKey(*op.state.bufferedVideoSeq, op.cfg.ChangeKeyMode)
		op.state.bufferedVideoSeq = nil
	} else if op.state.videoSeq != nil {
		out = append(out, FlvData{Kind: KindTag, Tag: *op.state.videoSeq})
	}
	if op.state.bufferedAudioSeq != nil {
		out = append(out, FlvData{Kind: KindTag, Tag: *op.state.bufferedAudioSeq})
		op.state.audioSeq = op.state.bufferedAudioSeq
		op.state.hasAudioKey = true
		op.state.audioKey = computeChangeKey(*op.state.bufferedAudioSeq, op.cfg.ChangeKeyMode)
		op.state.bufferedAudioSeq = nil
	} else if op.state.audioSeq != nil {
		out = append(out, FlvData{Kind: KindTag, Tag: *op.state.audioSeq})
	}
	op.state.changed = false
	return out
}

// flushPendingSplit flushes buffered metadata/sequence tags without a
// duplicated Header, per EndOfSequence/finish semantics.
func (op *Operator) flushPendingSplit() []FlvData {
	if !op.state.changed {
		return nil
	}
	var out []FlvData
	if op.state.bufferedScript != nil {
		out = append(out, FlvData{Kind: KindTag, Tag: *op.state.bufferedScript})
		op.state.bufferedScript = nil
	}
	if op.state.bufferedVideoSeq != nil {
		out = append(out, FlvData{Kind: KindTag, Tag: *op.state.bufferedVideoSeq})
		op.state.bufferedVideoSeq = nil
	}
	if op.state.bufferedAudioSeq != nil {
		out = append(out, FlvData{Kind: KindTag, Tag: *op.state.bufferedAudioSeq})
		op.state.bufferedAudioSeq = nil
	}
	op.state.changed = false
	return out
}
