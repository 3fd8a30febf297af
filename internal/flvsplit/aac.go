package flvsplit

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

// ParseAACSequenceHeader decodes the AudioSpecificConfig carried by an AAC
// audio sequence-header tag body: sound-format/rate/size/type byte, then
// the AACPacketType byte, then the config itself.
func ParseAACSequenceHeader(data []byte) (*mpeg4audio.AudioSpecificConfig, error) {
	if len(data) < 3 {
		return nil, fmt.Errorf("flvsplit: aac sequence header too short: %d bytes", len(data))
	}
	if !isAudioSequenceHeader(data) {
		return nil, fmt.Errorf("flvsplit: not an AAC sequence header (sound format %d, packet type %d)", (data[0]>>4)&0x0F, data[1])
	}
	var cfg mpeg4audio.AudioSpecificConfig
	if err := cfg.Unmarshal(data[2:]); err != nil {
		return nil, fmt.Errorf("flvsplit: parsing AudioSpecificConfig: %w", err)
	}
	return &cfg, nil
}
