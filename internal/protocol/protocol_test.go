package protocol

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expected    *Header
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid control header",
			data: []byte{
				0x01,       // PacketType: Control
				0x00, 0x0D, // PacketLen: 13 (8 + 5)
				0x00, 0x00, 0x30, 0x39, // StreamID: 12345
				0x00, // Flags
			},
			expected: &Header{
				PacketType: PacketTypeControl,
				PacketLen:  13,
				StreamID:   12345,
			},
		},
		{
			name: "valid audio header with end of stream",
			data: []byte{
				0x02,       // PacketType: Audio
				0x01, 0x00, // PacketLen: 256
				0x12, 0x34, 0x56, 0x78, // StreamID: 305419896
				0x01, // Flags: end of stream
			},
			expected: &Header{
				PacketType: PacketTypeAudio,
				PacketLen:  256,
				StreamID:   305419896,
				Flags:      FlagEndOfStream,
			},
		},
		{
			name:        "header too short",
			data:        []byte{0x01, 0x00},
			expectError: true,
			errorMsg:    "header too short",
		},
		{
			name:        "empty data",
			data:        []byte{},
			expectError: true,
			errorMsg:    "header too short",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseHeader(tt.data)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if *result != *tt.expected {
				t.Errorf("Expected header %+v, got %+v", tt.expected, result)
			}
		})
	}
}

func TestParseControlPayload(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expected    ControlPayload
		expectError bool
		errorMsg    string
	}{
		{
			name:     "start at 16 kHz",
			data:     []byte{CommandStart, 0x00, 0x00, 0x3E, 0x80},
			expected: ControlPayload{Command: CommandStart, SampleRate: 16000},
		},
		{
			name:     "stop",
			data:     []byte{CommandStop, 0x00, 0x00, 0x00, 0x00},
			expected: ControlPayload{Command: CommandStop},
		},
		{
			name:        "unknown command",
			data:        []byte{0x07, 0x00, 0x00, 0x00, 0x00},
			expectError: true,
			errorMsg:    "unknown control command",
		},
		{
			name:        "payload too short",
			data:        []byte{CommandStart, 0x00},
			expectError: true,
			errorMsg:    "control payload too short",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseControlPayload(tt.data)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if *result != tt.expected {
				t.Errorf("Expected %+v, got %+v", tt.expected, result)
			}
		})
	}
}

func TestParseAudioPayload(t *testing.T) {
	audioData := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

	data := make([]byte, 4+len(audioData))
	binary.BigEndian.PutUint32(data[0:], 12345) // Sequence number
	copy(data[4:], audioData)

	tests := []struct {
		name        string
		data        []byte
		expectError bool
		errorMsg    string
		validate    func(*AudioPayload) bool
	}{
		{
			name: "valid audio payload with data",
			data: data,
			validate: func(p *AudioPayload) bool {
				return p.Sequence == 12345 && bytes.Equal(p.AudioData, audioData)
			},
		},
		{
			name: "audio payload with sequence only",
			data: []byte{0x00, 0x00, 0x00, 0x01},
			validate: func(p *AudioPayload) bool {
				return p.Sequence == 1 && len(p.AudioData) == 0
			},
		},
		{
			name:        "odd number of audio bytes",
			data:        []byte{0x00, 0x00, 0x00, 0x01, 0xFF},
			expectError: true,
			errorMsg:    "whole 16-bit samples",
		},
		{
			name:        "payload too short",
			data:        []byte{0x00, 0x00},
			expectError: true,
			errorMsg:    "audio payload too short",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseAudioPayload(tt.data)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if !tt.validate(result) {
				t.Errorf("Validation failed for result: %+v", result)
			}
		})
	}
}

func TestAudioPayloadDoesNotAlias(t *testing.T) {
	data := []byte{0x00, 0x00, 0x00, 0x01, 0x10, 0x20}
	payload, err := ParseAudioPayload(data)
	if err != nil {
		t.Fatalf("ParseAudioPayload failed: %v", err)
	}
	data[4] = 0xFF
	if payload.AudioData[0] != 0x10 {
		t.Error("Audio data aliases the input buffer")
	}
}

func TestParsePacket(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	audioPacket, err := MarshalAudio(67890, 42, FlagEndOfStream, pcm)
	if err != nil {
		t.Fatalf("MarshalAudio failed: %v", err)
	}

	tests := []struct {
		name        string
		data        []byte
		expectError bool
		errorMsg    string
		validate    func(*Packet) bool
	}{
		{
			name: "valid control packet",
			data: MarshalControl(12345, CommandStart, 16000),
			validate: func(p *Packet) bool {
				return p.Header.PacketType == PacketTypeControl &&
					p.Header.StreamID == 12345 &&
					p.Control != nil && p.Control.SampleRate == 16000 &&
					p.Audio == nil
			},
		},
		{
			name: "valid audio packet",
			data: audioPacket,
			validate: func(p *Packet) bool {
				return p.Header.PacketType == PacketTypeAudio &&
					p.Header.EndOfStream() &&
					p.Audio != nil && p.Audio.Sequence == 42 &&
					bytes.Equal(p.Audio.AudioData, pcm) &&
					p.Control == nil
			},
		},
		{
			name:        "packet too short",
			data:        []byte{0x01, 0x00},
			expectError: true,
			errorMsg:    "header too short",
		},
		{
			name:        "invalid packet type",
			data:        withType(MarshalControl(1, CommandStop, 0), 0x99),
			expectError: true,
			errorMsg:    "invalid packet type",
		},
		{
			name:        "packet length mismatch",
			data:        append(MarshalControl(1, CommandStop, 0), 0x00),
			expectError: true,
			errorMsg:    "packet length mismatch",
		},
		{
			name:        "control packet with audio-sized payload",
			data:        withType(audioPacket, PacketTypeControl),
			expectError: true,
			errorMsg:    "control packet payload size mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParsePacket(tt.data)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if !tt.validate(result) {
				t.Errorf("Validation failed for result: %+v", result)
			}
		})
	}
}

func TestMarshalAudioLimits(t *testing.T) {
	if _, err := MarshalAudio(1, 1, 0, make([]byte, 3)); err == nil {
		t.Error("Expected error for odd-length PCM")
	}
	if _, err := MarshalAudio(1, 1, 0, make([]byte, MaxPacketSize)); err == nil {
		t.Error("Expected error for oversized packet")
	}

	largest := MaxPacketSize - HeaderSize - AudioPayloadHeaderSize - 1
	packet, err := MarshalAudio(1, 1, 0, make([]byte, largest))
	if err != nil {
		t.Fatalf("MarshalAudio failed for largest payload: %v", err)
	}
	if _, err := ParsePacket(packet); err != nil {
		t.Errorf("Largest packet did not parse: %v", err)
	}
}

func TestValidateHeader(t *testing.T) {
	tests := []struct {
		name        string
		header      *Header
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid control header",
			header: &Header{PacketType: PacketTypeControl, PacketLen: HeaderSize + ControlPayloadSize},
		},
		{
			name:   "valid empty audio header",
			header: &Header{PacketType: PacketTypeAudio, PacketLen: HeaderSize + AudioPayloadHeaderSize},
		},
		{
			name:        "length below header size",
			header:      &Header{PacketType: PacketTypeAudio, PacketLen: 4},
			expectError: true,
			errorMsg:    "packet length too small",
		},
		{
			name:        "audio without sequence",
			header:      &Header{PacketType: PacketTypeAudio, PacketLen: HeaderSize + 2},
			expectError: true,
			errorMsg:    "audio packet payload too small",
		},
		{
			name:        "unknown type",
			header:      &Header{PacketType: 0x00, PacketLen: HeaderSize},
			expectError: true,
			errorMsg:    "invalid packet type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHeader(tt.header)
			if tt.expectError {
				if err == nil || !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing '%s', got %v", tt.errorMsg, err)
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestStringMethods(t *testing.T) {
	header := &Header{PacketType: PacketTypeAudio, PacketLen: 172, StreamID: 12345, Flags: FlagEndOfStream}
	if s := header.String(); !strings.Contains(s, "Audio") || !strings.Contains(s, "12345") || !strings.Contains(s, "0x01") {
		t.Errorf("Header.String() missing expected content: %s", s)
	}

	control := &ControlPayload{Command: CommandStop, SampleRate: 8000}
	if s := control.String(); !strings.Contains(s, "stop") || !strings.Contains(s, "8000") {
		t.Errorf("ControlPayload.String() missing expected content: %s", s)
	}

	audio := &AudioPayload{Sequence: 12345, AudioData: make([]byte, 160)}
	if s := audio.String(); !strings.Contains(s, "12345") || !strings.Contains(s, "160") {
		t.Errorf("AudioPayload.String() missing expected content: %s", s)
	}
}

func withType(packet []byte, packetType uint8) []byte {
	out := make([]byte, len(packet))
	copy(out, packet)
	out[0] = packetType
	return out
}
