package protocol

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
	"time"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expected    Header
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid control header",
			data: []byte{
				0x01,       // PacketType: Control
				0x00, 0x35, // PacketLen: 53 (8 + 45)
				0x00, 0x00, 0x30, 0x39, // SourceID: 12345
				0x01, // Format: PCM16LE
			},
			expected: Header{
				PacketType: PacketTypeControl,
				PacketLen:  53,
				SourceID:   12345,
				Format:     FormatPCM16LE,
			},
		},
		{
			name: "valid audio header",
			data: []byte{
				0x02,       // PacketType: Audio
				0x01, 0x00, // PacketLen: 256
				0x12, 0x34, 0x56, 0x78, // SourceID: 305419896
				0x01,
			},
			expected: Header{
				PacketType: PacketTypeAudio,
				PacketLen:  256,
				SourceID:   305419896,
				Format:     FormatPCM16LE,
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
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if result != tt.expected {
				t.Errorf("Expected header %+v, got %+v", tt.expected, result)
			}
		})
	}
}

func TestParseControlPayload(t *testing.T) {
	valid := make([]byte, ControlPayloadSize)
	valid[0] = byte(CommandStart)
	binary.BigEndian.PutUint32(valid[1:5], 16000)
	binary.BigEndian.PutUint64(valid[5:13], 1700000000123)
	copy(valid[13:], "studio-mic")

	tests := []struct {
		name        string
		data        []byte
		wantCommand Command
		wantRate    uint32
		wantName    string
		expectError bool
	}{
		{
			name:        "valid payload",
			data:        valid,
			wantCommand: CommandStart,
			wantRate:    16000,
			wantName:    "studio-mic",
		},
		{
			name:        "payload too short",
			data:        valid[:20],
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := ParseControlPayload(tt.data)
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if payload.Command != tt.wantCommand {
				t.Errorf("Command = %s, want %s", payload.Command, tt.wantCommand)
			}
			if payload.SampleRate != tt.wantRate {
				t.Errorf("SampleRate = %d, want %d", payload.SampleRate, tt.wantRate)
			}
			if payload.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", payload.Name(), tt.wantName)
			}
			if got := payload.Time().UnixMilli(); got != 1700000000123 {
				t.Errorf("Time() = %d, want 1700000000123", got)
			}
		})
	}
}

func TestParseAudioPayload(t *testing.T) {
	header := make([]byte, AudioPayloadHeaderSize)
	binary.BigEndian.PutUint32(header[0:4], 42)
	binary.BigEndian.PutUint64(header[4:12], 1700000000000)

	tests := []struct {
		name        string
		data        []byte
		wantPCM     []byte
		expectError bool
		errorMsg    string
	}{
		{
			name:    "samples present",
			data:    append(append([]byte{}, header...), 0x01, 0x02, 0x03, 0x04),
			wantPCM: []byte{0x01, 0x02, 0x03, 0x04},
		},
		{
			name:    "no samples",
			data:    header,
			wantPCM: nil,
		},
		{
			name:        "odd sample bytes",
			data:        append(append([]byte{}, header...), 0x01, 0x02, 0x03),
			expectError: true,
			errorMsg:    "odd PCM length",
		},
		{
			name:        "too short",
			data:        header[:6],
			expectError: true,
			errorMsg:    "too short",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := ParseAudioPayload(tt.data)
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
			if payload.Sequence != 42 {
				t.Errorf("Sequence = %d, want 42", payload.Sequence)
			}
			if !bytes.Equal(payload.PCM, tt.wantPCM) {
				t.Errorf("PCM = %v, want %v", payload.PCM, tt.wantPCM)
			}
		})
	}
}

func TestParseAudioPayloadCopiesSamples(t *testing.T) {
	data, err := MarshalAudio(1, 1, time.Now(), []byte{0x10, 0x20})
	if err != nil {
		t.Fatalf("MarshalAudio: %v", err)
	}
	payload, err := ParseAudioPayload(data[HeaderSize:])
	if err != nil {
		t.Fatalf("ParseAudioPayload: %v", err)
	}
	data[HeaderSize+AudioPayloadHeaderSize] = 0xFF
	if payload.PCM[0] != 0x10 {
		t.Errorf("PCM shares the read buffer")
	}
}

func TestParsePacket(t *testing.T) {
	ts := time.UnixMilli(1700000000500)
	audioPacket, err := MarshalAudio(7, 3, ts, []byte{0x00, 0x10, 0x00, 0x20})
	if err != nil {
		t.Fatalf("MarshalAudio: %v", err)
	}
	controlPacket := MarshalControl(7, CommandPause, 16000, ts, "booth")

	badType := append([]byte{}, controlPacket...)
	badType[0] = 0x09

	badFormat := append([]byte{}, audioPacket...)
	badFormat[7] = 0x02

	badCommand := append([]byte{}, controlPacket...)
	badCommand[HeaderSize] = 0x7F

	tests := []struct {
		name        string
		data        []byte
		wantType    uint8
		expectError bool
		errorMsg    string
	}{
		{name: "audio packet", data: audioPacket, wantType: PacketTypeAudio},
		{name: "control packet", data: controlPacket, wantType: PacketTypeControl},
		{name: "invalid packet type", data: badType, expectError: true, errorMsg: "invalid packet type"},
		{name: "unsupported format", data: badFormat, expectError: true, errorMsg: "unsupported audio format"},
		{name: "unknown command", data: badCommand, expectError: true, errorMsg: "unknown control command"},
		{name: "length mismatch", data: audioPacket[:len(audioPacket)-2], expectError: true, errorMsg: "packet length mismatch"},
		{name: "too short", data: []byte{0x02}, expectError: true, errorMsg: "header too short"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packet, err := ParsePacket(tt.data)
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
			if packet.Header.PacketType != tt.wantType {
				t.Errorf("PacketType = 0x%02x, want 0x%02x", packet.Header.PacketType, tt.wantType)
			}
			if packet.Header.SourceID != 7 {
				t.Errorf("SourceID = %d, want 7", packet.Header.SourceID)
			}
			switch tt.wantType {
			case PacketTypeAudio:
				if packet.Audio == nil || packet.Control != nil {
					t.Fatalf("Expected only the audio payload to be set")
				}
				if packet.Audio.Sequence != 3 || len(packet.Audio.PCM) != 4 {
					t.Errorf("Audio = %s", packet.Audio)
				}
				if !packet.Audio.Time().Equal(ts) {
					t.Errorf("Time() = %v, want %v", packet.Audio.Time(), ts)
				}
			case PacketTypeControl:
				if packet.Control == nil || packet.Audio != nil {
					t.Fatalf("Expected only the control payload to be set")
				}
				if packet.Control.Command != CommandPause || packet.Control.Name() != "booth" {
					t.Errorf("Control = %s", packet.Control)
				}
			}
		})
	}
}

func TestValidateHeader(t *testing.T) {
	tests := []struct {
		name        string
		header      Header
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid control",
			header: Header{PacketType: PacketTypeControl, PacketLen: HeaderSize + ControlPayloadSize, Format: FormatPCM16LE},
		},
		{
			name:   "valid empty audio",
			header: Header{PacketType: PacketTypeAudio, PacketLen: HeaderSize + AudioPayloadHeaderSize, Format: FormatPCM16LE},
		},
		{
			name:        "control size mismatch",
			header:      Header{PacketType: PacketTypeControl, PacketLen: 60, Format: FormatPCM16LE},
			expectError: true,
			errorMsg:    "payload size mismatch",
		},
		{
			name:        "audio payload too small",
			header:      Header{PacketType: PacketTypeAudio, PacketLen: 12, Format: FormatPCM16LE},
			expectError: true,
			errorMsg:    "payload too small",
		},
		{
			name:        "length below header",
			header:      Header{PacketType: PacketTypeAudio, PacketLen: 4, Format: FormatPCM16LE},
			expectError: true,
			errorMsg:    "packet length too small",
		},
		{
			name:        "zero format",
			header:      Header{PacketType: PacketTypeAudio, PacketLen: 100},
			expectError: true,
			errorMsg:    "unsupported audio format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHeader(tt.header)
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestMarshalAudioLimits(t *testing.T) {
	if _, err := MarshalAudio(1, 1, time.Now(), []byte{0x01}); err == nil {
		t.Error("Expected an error for odd PCM length")
	}
	if _, err := MarshalAudio(1, 1, time.Now(), make([]byte, MaxPacketSize)); err == nil {
		t.Error("Expected an error for oversized packet")
	}
}

func TestWireLayout(t *testing.T) {
	// Integers are big-endian and the header length counts the whole
	// datagram. PCM samples keep their little-endian order.
	audio, err := MarshalAudio(0x01020304, 5, time.UnixMilli(0x0102030405), []byte{0x34, 0x12})
	if err != nil {
		t.Fatalf("MarshalAudio: %v", err)
	}
	wantAudio := []byte{
		PacketTypeAudio, 0x00, 0x16, 0x01, 0x02, 0x03, 0x04, FormatPCM16LE,
		0x00, 0x00, 0x00, 0x05,
		0x00, 0x00, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05,
		0x34, 0x12,
	}
	if !bytes.Equal(audio, wantAudio) {
		t.Errorf("audio packet = % x\nwant            % x", audio, wantAudio)
	}

	control := MarshalControl(7, CommandPause, 16000, time.UnixMilli(1), "mic")
	wantControl := make([]byte, HeaderSize+ControlPayloadSize)
	copy(wantControl, []byte{
		PacketTypeControl, 0x00, 0x35, 0x00, 0x00, 0x00, 0x07, FormatPCM16LE,
		byte(CommandPause), 0x00, 0x00, 0x3e, 0x80,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01,
		'm', 'i', 'c',
	})
	if !bytes.Equal(control, wantControl) {
		t.Errorf("control packet = % x\nwant              % x", control, wantControl)
	}
}

func TestMarshalControlTruncatesName(t *testing.T) {
	long := strings.Repeat("x", 40)
	packet, err := ParsePacket(MarshalControl(1, CommandStart, 8000, time.Now(), long))
	if err != nil {
		t.Fatalf("ParsePacket: %v", err)
	}
	if got := packet.Control.Name(); got != long[:SourceNameSize-1] {
		t.Errorf("Name() = %q (%d bytes)", got, len(got))
	}
}

func TestIsValidCommand(t *testing.T) {
	tests := []struct {
		cmd  Command
		want bool
	}{
		{CommandStart, true},
		{CommandStop, true},
		{CommandPause, true},
		{CommandResume, true},
		{Command(0x00), false},
		{Command(0x05), false},
	}
	for _, tt := range tests {
		t.Run(tt.cmd.String(), func(t *testing.T) {
			if got := IsValidCommand(tt.cmd); got != tt.want {
				t.Errorf("IsValidCommand(%s) = %v, want %v", tt.cmd, got, tt.want)
			}
		})
	}
}

func TestExtractString(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{"null terminated", []byte{'m', 'i', 'c', 0, 'x'}, "mic"},
		{"no terminator", []byte{'a', 'b'}, "ab"},
		{"leading null", []byte{0, 'a'}, ""},
		{"empty", []byte{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractString(tt.input); got != tt.expected {
				t.Errorf("ExtractString() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestStringMethods(t *testing.T) {
	h := Header{PacketType: PacketTypeAudio, PacketLen: 20, SourceID: 5, Format: FormatPCM16LE}
	if s := h.String(); !strings.Contains(s, "Type:Audio") || !strings.Contains(s, "SourceID:5") {
		t.Errorf("Header.String() = %s", s)
	}
	h.PacketType = 0x33
	if s := h.String(); !strings.Contains(s, "Unknown(0x33)") {
		t.Errorf("Header.String() = %s", s)
	}
	if s := Command(0x09).String(); s != "unknown(0x09)" {
		t.Errorf("Command.String() = %s", s)
	}
}
