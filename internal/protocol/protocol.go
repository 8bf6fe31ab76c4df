package protocol

import (
	"encoding/binary"
	"fmt"
)

const (
	// Packet types
	PacketTypeControl = 0x01
	PacketTypeAudio   = 0x02

	// Control commands
	CommandStart = 0x01
	CommandStop  = 0x02

	// Header flags
	FlagEndOfStream = 0x01

	// Packet structure sizes
	HeaderSize             = 8 // 1 + 2 + 4 + 1 bytes
	ControlPayloadSize     = 5 // 1 + 4 bytes
	AudioPayloadHeaderSize = 4 // Sequence number (4 bytes)

	// MaxPacketSize is the largest packet the 16-bit length field allows.
	MaxPacketSize = 0xFFFF
)

// Header represents the 8-byte packet header
// Layout: [PacketType:1][PacketLen:2][StreamID:4][Flags:1], big-endian
type Header struct {
	PacketType uint8  // 0x01=Control, 0x02=Audio
	PacketLen  uint16 // Total packet size (header + payload)
	StreamID   uint32 // Sender-chosen stream identifier
	Flags      uint8
}

// ControlPayload starts or stops a stream.
// Layout: [Command:1][SampleRate:4]
type ControlPayload struct {
	Command    uint8
	SampleRate uint32
}

// AudioPayload represents the audio packet payload
// Layout: [Sequence:4][PCM16 little-endian mono samples:N]
type AudioPayload struct {
	Sequence  uint32
	AudioData []byte
}

// Packet represents a fully parsed packet
type Packet struct {
	Header  *Header
	Control *ControlPayload // Only set for control packets
	Audio   *AudioPayload   // Only set for audio packets
}

// ParseHeader parses the 8-byte packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	return &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		StreamID:   binary.BigEndian.Uint32(data[3:7]),
		Flags:      data[7],
	}, nil
}

// ParseControlPayload parses the 5-byte control payload
func ParseControlPayload(data []byte) (*ControlPayload, error) {
	if len(data) < ControlPayloadSize {
		return nil, fmt.Errorf("control payload too short: expected %d bytes, got %d",
			ControlPayloadSize, len(data))
	}

	payload := &ControlPayload{
		Command:    data[0],
		SampleRate: binary.BigEndian.Uint32(data[1:5]),
	}
	if payload.Command != CommandStart && payload.Command != CommandStop {
		return nil, fmt.Errorf("unknown control command: 0x%02x", payload.Command)
	}
	return payload, nil
}

// ParseAudioPayload parses the audio packet payload (4-byte sequence + PCM)
func ParseAudioPayload(data []byte) (*AudioPayload, error) {
	if len(data) < AudioPayloadHeaderSize {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
			AudioPayloadHeaderSize, len(data))
	}
	if (len(data)-AudioPayloadHeaderSize)%2 != 0 {
		return nil, fmt.Errorf("audio data must hold whole 16-bit samples, got %d bytes",
			len(data)-AudioPayloadHeaderSize)
	}

	payload := &AudioPayload{
		Sequence: binary.BigEndian.Uint32(data[0:4]),
	}

	if len(data) > AudioPayloadHeaderSize {
		payload.AudioData = make([]byte, len(data)-AudioPayloadHeaderSize)
		copy(payload.AudioData, data[AudioPayloadHeaderSize:])
	}

	return payload, nil
}

// ParsePacket parses a complete packet (header + payload)
func ParsePacket(data []byte) (*Packet, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &Packet{Header: header}
	payloadData := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeControl:
		payload, err := ParseControlPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse control payload: %w", err)
		}
		packet.Control = payload

	case PacketTypeAudio:
		payload, err := ParseAudioPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		packet.Audio = payload
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	payloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeControl:
		if payloadSize != ControlPayloadSize {
			return fmt.Errorf("control packet payload size mismatch: expected %d, got %d",
				ControlPayloadSize, payloadSize)
		}
	case PacketTypeAudio:
		if payloadSize < AudioPayloadHeaderSize {
			return fmt.Errorf("audio packet payload too small: expected at least %d, got %d",
				AudioPayloadHeaderSize, payloadSize)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeControl || ptype == PacketTypeAudio
}

func putHeader(buf []byte, packetType uint8, streamID uint32, flags uint8) {
	buf[0] = packetType
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(buf)))
	binary.BigEndian.PutUint32(buf[3:7], streamID)
	buf[7] = flags
}

// MarshalAudio builds an audio packet around pcm (16-bit little-endian).
func MarshalAudio(streamID, sequence uint32, flags uint8, pcm []byte) ([]byte, error) {
	size := HeaderSize + AudioPayloadHeaderSize + len(pcm)
	if size > MaxPacketSize {
		return nil, fmt.Errorf("audio packet too large: %d bytes (maximum %d)", size, MaxPacketSize)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio data must hold whole 16-bit samples, got %d bytes", len(pcm))
	}

	buf := make([]byte, size)
	putHeader(buf, PacketTypeAudio, streamID, flags)
	binary.BigEndian.PutUint32(buf[HeaderSize:], sequence)
	copy(buf[HeaderSize+AudioPayloadHeaderSize:], pcm)
	return buf, nil
}

// MarshalControl builds a control packet.
func MarshalControl(streamID uint32, command uint8, sampleRate uint32) []byte {
	buf := make([]byte, HeaderSize+ControlPayloadSize)
	putHeader(buf, PacketTypeControl, streamID, 0)
	buf[HeaderSize] = command
	binary.BigEndian.PutUint32(buf[HeaderSize+1:], sampleRate)
	return buf
}

// EndOfStream reports whether the sender marked this as its last packet.
func (h *Header) EndOfStream() bool {
	return h.Flags&FlagEndOfStream != 0
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType string

	switch h.PacketType {
	case PacketTypeControl:
		packetType = "Control"
	case PacketTypeAudio:
		packetType = "Audio"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, StreamID:%d, Flags:0x%02x}",
		packetType, h.PacketLen, h.StreamID, h.Flags)
}

// String returns a human-readable representation of the control payload
func (c *ControlPayload) String() string {
	command := "start"
	if c.Command == CommandStop {
		command = "stop"
	}
	return fmt.Sprintf("ControlPayload{Command:%s, SampleRate:%d}", command, c.SampleRate)
}

// String returns a human-readable representation of the audio payload
func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{Sequence:%d, AudioDataLen:%d}", a.Sequence, len(a.AudioData))
}
