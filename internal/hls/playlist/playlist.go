// Package playlist implements the HLS playlist engine: fetching, platform
// preprocessing, parsing into Master/Media representations, and the
// adaptive-refresh live monitoring loop.
package playlist

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmylchreest/streamforge/internal/urlutil"
)

// Error is the failure taxonomy the engine surfaces.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return "playlist: " + e.Msg }

// NetworkError wraps a transport-level failure.
type NetworkError struct {
	Source error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("playlist: network error: %v", e.Source) }
func (e *NetworkError) Unwrap() error { return e.Source }

// SelectionPolicy picks a single variant stream out of a Master playlist.
type SelectionPolicy struct {
	Kind           SelectionKind
	TargetBitrate  int
	Width, Height  int
	CustomName     string
	CustomSelector func([]Variant) (*Variant, bool)
}

// SelectionKind enumerates the built-in master-playlist selection
// strategies.
type SelectionKind int

const (
	HighestBitrate SelectionKind = iota
	LowestBitrate
	ClosestToBitrate
	AudioOnly
	VideoOnly
	MatchingResolution
	Custom
)

// Variant is a single EXT-X-STREAM-INF entry in a Master playlist.
type Variant struct {
	URI        string
	Bandwidth  int
	Width      int
	Height     int
	Codecs     string
	AudioOnly  bool
}

// Segment is a single media segment entry in a Media playlist.
type Segment struct {
	URI               string
	Duration          float64
	MediaSequence     int64
	IsInitSegment     bool
	IsPrefetch        bool
	IsDiscontinuity   bool
	KeyURI            string
	KeyMethod         string
	Title             string
}

// Media is a parsed Media playlist.
type Media struct {
	TargetDuration   float64
	MediaSequence    int64
	Segments         []Segment
	InitSegment      *Segment
	EndList          bool
	DiscontinuitySeq int64
}

// Master is a parsed Master playlist.
type Master struct {
	Variants []Variant
}

// Playlist is the result of parsing: exactly one of Master or Media is set.
type Playlist struct {
	Master *Master
	Media  *Media
}

// ParseOptions controls preprocessing applied before parsing.
type ParseOptions struct {
	// TwitchPreprocessing rewrites EXT-X-TWITCH-PREFETCH tags into
	// synthesized PREFETCH_SEGMENT entries and strips ad daterange tags.
	TwitchPreprocessing bool
}

// Parse preprocesses and parses raw playlist bytes fetched from baseURL.
func Parse(raw []byte, baseURL string, opts ParseOptions) (*Playlist, error) {
	text := string(raw)
	if opts.TwitchPreprocessing {
		text = preprocessTwitch(text)
	}

	lines := splitLines(text)
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "#EXTM3U" {
		return nil, &Error{Msg: "missing #EXTM3U header"}
	}

	if containsTag(lines, "#EXT-X-STREAM-INF") {
		m, err := parseMaster(lines, baseURL)
		if err != nil {
			return nil, err
		}
		return &Playlist{Master: m}, nil
	}

	m, err := parseMedia(lines, baseURL)
	if err != nil {
		return nil, err
	}
	return &Playlist{Media: m}, nil
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	raw := strings.Split(text, "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		if strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, l)
	}
	return out
}

func containsTag(lines []string, tag string) bool {
	for _, l := range lines {
		if strings.HasPrefix(l, tag) {
			return true
		}
	}
	return false
}

// preprocessTwitch rewrites Twitch-specific tags. EXT-X-TWITCH-PREFETCH
// entries become synthesized EXTINF segments titled PREFETCH_SEGMENT,
// which the downstream ad-skip heuristic recognizes. A stream whose real
// segment title is PREFETCH_SEGMENT would be misclassified; no marker
// less ambiguous than the title survives preprocessing. Ad daterange
// tags are stripped outright.
func preprocessTwitch(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "#EXT-X-TWITCH-PREFETCH:"):
			uri := strings.TrimPrefix(trimmed, "#EXT-X-TWITCH-PREFETCH:")
			out = append(out, "#EXTINF:0.0,PREFETCH_SEGMENT", uri)
		case strings.HasPrefix(trimmed, "#EXT-X-DATERANGE:") && strings.Contains(trimmed, "twitch-stitched-ad"):
			// dropped
		default:
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func parseMaster(lines []string, baseURL string) (*Master, error) {
	m := &Master{}
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if !strings.HasPrefix(line, "#EXT-X-STREAM-INF:") {
			continue
		}
		attrs := parseAttributes(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))
		if i+1 >= len(lines) {
			return nil, &Error{Msg: "EXT-X-STREAM-INF with no following URI"}
		}
		uri := lines[i+1]
		i++
		v := Variant{URI: resolveURI(baseURL, uri)}
		if bw, ok := attrs["BANDWIDTH"]; ok {
			v.Bandwidth, _ = strconv.Atoi(bw)
		}
		if res, ok := attrs["RESOLUTION"]; ok {
			if w, h, ok := parseResolution(res); ok {
				v.Width, v.Height = w, h
			}
		}
		if codecs, ok := attrs["CODECS"]; ok {
			v.Codecs = codecs
			v.AudioOnly = isAudioOnlyCodecs(codecs)
		}
		m.Variants = append(m.Variants, v)
	}
	if len(m.Variants) == 0 {
		return nil, &Error{Msg: "master playlist has no variants"}
	}
	return m, nil
}

func parseMedia(lines []string, baseURL string) (*Media, error) {
	media := &Media{MediaSequence: 0}
	var (
		pendingDuration float64
		pendingTitle    string
		discontinuity   bool
		keyURI          string
		keyMethod       string
		msn             = int64(0)
	)

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			media.TargetDuration = parseFloat(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"))
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			v, _ := strconv.ParseInt(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"), 10, 64)
			media.MediaSequence = v
			msn = v
		case strings.HasPrefix(line, "#EXT-X-DISCONTINUITY-SEQUENCE:"):
			v, _ := strconv.ParseInt(strings.TrimPrefix(line, "#EXT-X-DISCONTINUITY-SEQUENCE:"), 10, 64)
			media.DiscontinuitySeq = v
		case strings.HasPrefix(line, "#EXT-X-MAP:"):
			attrs := parseAttributes(strings.TrimPrefix(line, "#EXT-X-MAP:"))
			uri := unquote(attrs["URI"])
			media.InitSegment = &Segment{
				URI:           resolveURI(baseURL, uri),
				IsInitSegment: true,
				MediaSequence: msn,
			}
		case strings.HasPrefix(line, "#EXT-X-KEY:"):
			attrs := parseAttributes(strings.TrimPrefix(line, "#EXT-X-KEY:"))
			keyMethod = attrs["METHOD"]
			keyURI = resolveURI(baseURL, unquote(attrs["URI"]))
		case strings.HasPrefix(line, "#EXT-X-DISCONTINUITY"):
			discontinuity = true
		case strings.HasPrefix(line, "#EXTINF:"):
			rest := strings.TrimPrefix(line, "#EXTINF:")
			parts := strings.SplitN(rest, ",", 2)
			pendingDuration = parseFloat(parts[0])
			if len(parts) > 1 {
				pendingTitle = parts[1]
			}
		case strings.HasPrefix(line, "#EXT-X-ENDLIST"):
			media.EndList = true
		case strings.HasPrefix(line, "#"):
			// unrecognized tag, ignored
		default:
			seg := Segment{
				URI:             resolveURI(baseURL, line),
				Duration:        pendingDuration,
				MediaSequence:   msn,
				IsDiscontinuity: discontinuity,
				Title:           pendingTitle,
				KeyURI:          keyURI,
				KeyMethod:       keyMethod,
				IsPrefetch:      pendingTitle == "PREFETCH_SEGMENT",
			}
			media.Segments = append(media.Segments, seg)
			msn++
			pendingDuration = 0
			pendingTitle = ""
			discontinuity = false
		}
	}
	return media, nil
}

func parseResolution(s string) (int, int, bool) {
	parts := strings.SplitN(s, "x", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	w, errW := strconv.Atoi(parts[0])
	h, errH := strconv.Atoi(parts[1])
	if errW != nil || errH != nil {
		return 0, 0, false
	}
	return w, h, true
}

func isAudioOnlyCodecs(codecs string) bool {
	lower := strings.ToLower(codecs)
	return (strings.Contains(lower, "mp4a") || strings.Contains(lower, "ac-3") || strings.Contains(lower, "ec-3")) &&
		!strings.Contains(lower, "avc") && !strings.Contains(lower, "hvc") && !strings.Contains(lower, "hev")
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

func unquote(s string) string {
	return strings.Trim(s, `"`)
}

// parseAttributes parses a comma-separated ATTR=VALUE list, honoring
// quoted values that may themselves contain commas.
func parseAttributes(s string) map[string]string {
	out := make(map[string]string)
	var key strings.Builder
	var val strings.Builder
	inValue := false
	inQuotes := false
	flush := func() {
		if key.Len() > 0 {
			out[strings.TrimSpace(key.String())] = val.String()
		}
		key.Reset()
		val.Reset()
		inValue = false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' :
			inQuotes = !inQuotes
			if inValue {
				val.WriteByte(c)
			}
		case c == '=' && !inValue && !inQuotes:
			inValue = true
		case c == ',' && !inQuotes:
			flush()
		default:
			if inValue {
				val.WriteByte(c)
			} else {
				key.WriteByte(c)
			}
		}
	}
	flush()
	// Strip surrounding quotes from values.
	for k, v := range out {
		out[k] = strings.Trim(v, `"`)
	}
	return out
}

// resolveURI resolves a child URI against baseURL, merging baseURL's query
// parameters into the child unless the child already defines them.
func resolveURI(baseURL, childURI string) string {
	return urlutil.Resolve(baseURL, childURI)
}

// Select applies a SelectionPolicy to a Master playlist's variants.
func Select(master *Master, policy SelectionPolicy) (*Variant, error) {
	if len(master.Variants) == 0 {
		return nil, &Error{Msg: "no variants to select from"}
	}
	switch policy.Kind {
	case HighestBitrate:
		best := master.Variants[0]
		for _, v := range master.Variants[1:] {
			if v.Bandwidth > best.Bandwidth {
				best = v
			}
		}
		return &best, nil
	case LowestBitrate:
		best := master.Variants[0]
		for _, v := range master.Variants[1:] {
			if v.Bandwidth < best.Bandwidth {
				best = v
			}
		}
		return &best, nil
	case ClosestToBitrate:
		best := master.Variants[0]
		bestDiff := abs(best.Bandwidth - policy.TargetBitrate)
		for _, v := range master.Variants[1:] {
			if d := abs(v.Bandwidth - policy.TargetBitrate); d < bestDiff {
				best, bestDiff = v, d
			}
		}
		return &best, nil
	case AudioOnly:
		for _, v := range master.Variants {
			if v.AudioOnly {
				return &v, nil
			}
		}
		return nil, &Error{Msg: "no audio-only variant found"}
	case VideoOnly:
		for _, v := range master.Variants {
			if !v.AudioOnly {
				return &v, nil
			}
		}
		return nil, &Error{Msg: "no video variant found"}
	case MatchingResolution:
		for _, v := range master.Variants {
			if v.Width == policy.Width && v.Height == policy.Height {
				return &v, nil
			}
		}
		return nil, &Error{Msg: "no variant matches requested resolution"}
	case Custom:
		if policy.CustomSelector == nil {
			return nil, &Error{Msg: "custom selection policy has no selector function"}
		}
		v, ok := policy.CustomSelector(master.Variants)
		if !ok {
			return nil, &Error{Msg: fmt.Sprintf("custom policy %q matched no variant", policy.CustomName)}
		}
		return v, nil
	default:
		return nil, &Error{Msg: "unknown selection policy"}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// IsNotFoundLike reports whether err represents a retryable fetch failure
// as opposed to a parse failure.
func IsNotFoundLike(err error) bool {
	var nerr *NetworkError
	return errors.As(err, &nerr)
}
