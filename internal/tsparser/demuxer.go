package tsparser

import "log/slog"

const pidSpace = 8192

// Handlers are caller-supplied callbacks invoked as the demuxer observes new
// PSI state. Any handler may be nil.
type Handlers struct {
	// OnPAT fires only when the PAT's version actually changes.
	OnPAT func(pat *PAT)
	// OnPMT fires only when a given program's PMT version actually changes.
	OnPMT func(pmt *PMT)
	// OnSCTE35 fires for every reassembled SCTE-35 section (table_id 0xFC)
	// on a PID that was auto-detected via the PMT registration descriptor.
	OnSCTE35 func(pid uint16, section []byte)
	// OnContinuityError fires in Strict mode for discontinuities/duplicates.
	// In Warn/Disabled mode this is never called; use Warnings(pid) instead.
	OnContinuityError func(err error)
}

// Config bounds the demuxer's PSI buffer size, CRC validation, and
// continuity handling.
type Config struct {
	ContinuityMode  ContinuityMode
	PSIBufferMaxKiB int
	ValidateCRC     bool
	DetectSCTE35    bool
}

// Demuxer is a single-threaded, stateful MPEG-TS parser: it owns per-PID PSI
// reassembly buffers, tracks PAT/PMT versions, and classifies continuity.
// Not safe for concurrent use from multiple goroutines.
type Demuxer struct {
	cfg      Config
	logger   *slog.Logger
	sync     SyncDiscoverer
	psi      map[uint16]*psiBuffer
	handlers Handlers

	patVersion      int // -1 = not yet seen
	pmtVersions     map[uint16]int
	pmtPIDToProgram map[uint16]uint16

	pmtPIDFlags    [pidSpace]bool
	scte35PIDFlags [pidSpace]bool

	continuity *continuityTracker
}

// New constructs a Demuxer with the given configuration and handlers.
func New(cfg Config, handlers Handlers, logger *slog.Logger) *Demuxer {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Demuxer{
		cfg:             cfg,
		logger:          logger.With("component", "ts_demuxer"),
		psi:             make(map[uint16]*psiBuffer),
		handlers:        handlers,
		patVersion:      -1,
		pmtVersions:     make(map[uint16]int),
		pmtPIDToProgram: make(map[uint16]uint16),
		continuity:      newContinuityTracker(cfg.ContinuityMode),
	}
	d.pmtPIDFlags[0] = true // PAT PID
	return d
}

// ProcessBuffer parses every TS packet contained in a buffer that begins at
// (or before) a sync boundary, invoking handlers for new PSI state. The
// buffer must be composed of whole physical frames for the locked or
// newly-discovered format; a caller reading from a stream should accumulate
// bytes until at least one full frame is available.
func (d *Demuxer) ProcessBuffer(buf []byte) error {
	pos := 0
	format := d.sync.Locked()

	if format == FormatUnknown {
		f, p := Discover(buf, pos)
		if f == FormatUnknown {
			return nil // wait for more data
		}
		format = f
		pos = p
		d.sync.Lock(format, pos)
	}

	frameSize := format.PacketSize()
	syncOffset := format.syncOffset()

	for pos+syncOffset+188 <= len(buf) {
		// A matching sync byte alone is not enough: 0x47 occurs in packet
		// payloads, so the next frame boundary must also carry one before
		// this position is trusted (buffer end counts as verified).
		if buf[pos+syncOffset] != syncByte || !verifiedSync(buf, pos, format) {
			d.sync.Reset()
			f, p := Discover(buf, pos+1)
			if f == FormatUnknown {
				return nil
			}
			format = f
			pos = p
			d.sync.Lock(format, pos)
			frameSize = format.PacketSize()
			syncOffset = format.syncOffset()
			continue
		}

		raw188 := buf[pos+syncOffset : pos+syncOffset+188]
		pkt, err := ParsePacket(raw188)
		if err != nil {
			d.logger.Warn("dropping unparsable packet", "error", err)
			pos += frameSize
			continue
		}

		if handleErr := d.handlePacket(pkt); handleErr != nil {
			if d.handlers.OnContinuityError != nil {
				d.handlers.OnContinuityError(handleErr)
			}
		}

		pos += frameSize
		if pos+frameSize > len(buf) {
			break
		}
	}

	return nil
}

// verifiedSync reports whether the frame starting at pos is followed by a
// sync byte at the next frame boundary, or by the end of the buffer.
func verifiedSync(buf []byte, pos int, format PacketFormat) bool {
	next := pos + format.PacketSize() + format.syncOffset()
	return next >= len(buf) || buf[next] == syncByte
}

func (d *Demuxer) handlePacket(pkt Packet) error {
	hasPayload := pkt.AFC == AFCPayloadOnly || pkt.AFC == AFCBoth
	_, ccErr := d.continuity.Check(pkt.PID, pkt.CC, hasPayload)

	payload := pkt.Payload()
	if payload == nil {
		return ccErr
	}

	switch {
	case pkt.PID == 0x0000:
		d.feedPAT(payload, pkt.PUSI)
	case d.pmtPIDFlags[pkt.PID] && pkt.PID != 0:
		d.feedPMT(pkt.PID, payload, pkt.PUSI)
	case d.cfg.DetectSCTE35 && d.scte35PIDFlags[pkt.PID]:
		d.feedSCTE35(pkt.PID, payload, pkt.PUSI)
	}

	return ccErr
}

func (d *Demuxer) feedPAT(payload []byte, pusi bool) {
	buf, ok := d.psi[0x0000]
	if !ok {
		buf = newPSIBuffer(d.cfg.PSIBufferMaxKiB)
		d.psi[0x0000] = buf
	}
	for _, section := range buf.Feed(payload, pusi) {
		if len(section) == 0 || section[0] != tableIDPAT {
			continue
		}
		pat, err := ParsePAT(section, d.cfg.ValidateCRC)
		if err != nil {
			d.logger.Warn("PAT parse failed", "error", err)
			continue
		}
		if int(pat.Version) == d.patVersion {
			continue
		}
		d.onNewPAT(pat)
	}
}

// onNewPAT applies a new PAT version: clears all PMT/SCTE-35 state and PSI
// buffers (except the PAT's own), then registers the new PMT PIDs.
func (d *Demuxer) onNewPAT(pat *PAT) {
	d.patVersion = int(pat.Version)
	d.pmtVersions = make(map[uint16]int)
	d.pmtPIDToProgram = make(map[uint16]uint16)
	for pid := range d.psi {
		if pid != 0x0000 {
			delete(d.psi, pid)
		}
	}
	for i := range d.pmtPIDFlags {
		d.pmtPIDFlags[i] = false
	}
	for i := range d.scte35PIDFlags {
		d.scte35PIDFlags[i] = false
	}
	d.pmtPIDFlags[0] = true

	for _, prog := range pat.Programs {
		if prog.PMTPID < pidSpace {
			d.pmtPIDFlags[prog.PMTPID] = true
		}
		d.pmtPIDToProgram[prog.PMTPID] = prog.ProgramNumber
	}

	if d.handlers.OnPAT != nil {
		d.handlers.OnPAT(pat)
	}
}

func (d *Demuxer) feedPMT(pid uint16, payload []byte, pusi bool) {
	buf, ok := d.psi[pid]
	if !ok {
		buf = newPSIBuffer(d.cfg.PSIBufferMaxKiB)
		d.psi[pid] = buf
	}
	for _, section := range buf.Feed(payload, pusi) {
		if len(section) == 0 || section[0] != tableIDPMT {
			continue
		}
		pmt, err := ParsePMT(section, d.cfg.ValidateCRC)
		if err != nil {
			d.logger.Warn("PMT parse failed", "pid", pid, "error", err)
			continue
		}
		if v, seen := d.pmtVersions[pid]; seen && v == int(pmt.Version) {
			continue
		}
		d.pmtVersions[pid] = int(pmt.Version)

		if d.cfg.DetectSCTE35 {
			for _, es := range pmt.ElementaryStreams {
				if es.RegFormatSCTE && es.PID < pidSpace {
					d.scte35PIDFlags[es.PID] = true
				}
			}
		}

		if d.handlers.OnPMT != nil {
			d.handlers.OnPMT(pmt)
		}
	}
}

func (d *Demuxer) feedSCTE35(pid uint16, payload []byte, pusi bool) {
	buf, ok := d.psi[pid]
	if !ok {
		buf = newPSIBuffer(d.cfg.PSIBufferMaxKiB)
		d.psi[pid] = buf
	}
	for _, section := range buf.Feed(payload, pusi) {
		if len(section) == 0 || section[0] != tableIDSCTE35 {
			continue
		}
		if d.handlers.OnSCTE35 != nil {
			d.handlers.OnSCTE35(pid, section)
		}
	}
}

// ContinuityWarnings returns the accumulated Warn-mode anomaly count for pid.
func (d *Demuxer) ContinuityWarnings(pid uint16) int {
	return d.continuity.Warnings(pid)
}
