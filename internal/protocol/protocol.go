package protocol

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Wire constants. Header and payload integers are big-endian and the header
// length counts the whole datagram. PCM samples stay little-endian.
const (
	// Packet types
	PacketTypeControl = 0x01
	PacketTypeAudio   = 0x02

	// Audio formats
	FormatPCM16LE = 0x01

	// Packet structure sizes
	HeaderSize             = 8  // 1 + 2 + 4 + 1 bytes
	ControlPayloadSize     = 45 // 1 + 4 + 8 + 32 bytes
	AudioPayloadHeaderSize = 12 // sequence (4) + capture time (8)
	MaxPacketSize          = 65507

	SourceNameSize = 32
)

// Command is the action carried by a control packet.
type Command uint8

const (
	CommandStart  Command = 0x01
	CommandStop   Command = 0x02
	CommandPause  Command = 0x03
	CommandResume Command = 0x04
)

func (c Command) String() string {
	switch c {
	case CommandStart:
		return "start"
	case CommandStop:
		return "stop"
	case CommandPause:
		return "pause"
	case CommandResume:
		return "resume"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(c))
	}
}

// Header represents the 8-byte packet header
// Layout: [PacketType:1][PacketLen:2][SourceID:4][Format:1]
type Header struct {
	PacketType uint8  // 0x01=Control, 0x02=Audio
	PacketLen  uint16 // Total packet size (header + payload)
	SourceID   uint32 // Identifies the capture agent
	Format     uint8  // 0x01=PCM16LE mono
}

// ControlPayload represents the 45-byte control packet payload
// Layout: [Command:1][SampleRate:4][Timestamp:8][SourceName:32]
type ControlPayload struct {
	Command    Command
	SampleRate uint32
	Timestamp  int64                // Unix milliseconds
	SourceName [SourceNameSize]byte // Null-terminated string
}

// AudioPayload represents the audio packet payload
// Layout: [Sequence:4][CaptureTime:8][PCM:N]
type AudioPayload struct {
	Sequence    uint32
	CaptureTime int64 // Unix milliseconds of the first sample
	PCM         []byte
}

// Packet represents a fully parsed packet
type Packet struct {
	Header  Header
	Control *ControlPayload // Only set for control packets
	Audio   *AudioPayload   // Only set for audio packets
}

// ParseHeader parses the 8-byte packet header
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	return Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		SourceID:   binary.BigEndian.Uint32(data[3:7]),
		Format:     data[7],
	}, nil
}

// ParseControlPayload parses the 45-byte control payload
func ParseControlPayload(data []byte) (*ControlPayload, error) {
	if len(data) < ControlPayloadSize {
		return nil, fmt.Errorf("control payload too short: expected %d bytes, got %d", ControlPayloadSize, len(data))
	}

	payload := &ControlPayload{
		Command:    Command(data[0]),
		SampleRate: binary.BigEndian.Uint32(data[1:5]),
		Timestamp:  int64(binary.BigEndian.Uint64(data[5:13])),
	}
	copy(payload.SourceName[:], data[13:13+SourceNameSize])
	return payload, nil
}

// ParseAudioPayload parses the audio payload. The PCM slice is copied so
// the caller may reuse its read buffer.
func ParseAudioPayload(data []byte) (*AudioPayload, error) {
	if len(data) < AudioPayloadHeaderSize {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
			AudioPayloadHeaderSize, len(data))
	}

	pcm := data[AudioPayloadHeaderSize:]
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio payload has odd PCM length %d", len(pcm))
	}

	payload := &AudioPayload{
		Sequence:    binary.BigEndian.Uint32(data[0:4]),
		CaptureTime: int64(binary.BigEndian.Uint64(data[4:12])),
	}
	if len(pcm) > 0 {
		payload.PCM = make([]byte, len(pcm))
		copy(payload.PCM, pcm)
	}
	return payload, nil
}

// ParsePacket parses a complete packet (header + payload)
func ParsePacket(data []byte) (*Packet, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, err
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
		if !IsValidCommand(payload.Command) {
			return nil, fmt.Errorf("unknown control command: %s", payload.Command)
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
func ValidateHeader(header Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if header.Format != FormatPCM16LE {
		return fmt.Errorf("unsupported audio format: 0x%02x", header.Format)
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

// IsValidCommand checks if the control command is known
func IsValidCommand(c Command) bool {
	return c >= CommandStart && c <= CommandResume
}

// ExtractString extracts a null-terminated string from a fixed-size byte array
func ExtractString(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

// Name returns the source name as a string
func (c *ControlPayload) Name() string {
	return ExtractString(c.SourceName[:])
}

// Time returns the control timestamp
func (c *ControlPayload) Time() time.Time {
	return time.UnixMilli(c.Timestamp)
}

// Time returns the capture time of the first sample
func (a *AudioPayload) Time() time.Time {
	return time.UnixMilli(a.CaptureTime)
}

func putHeader(buf []byte, ptype uint8, sourceID uint32) {
	buf[0] = ptype
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(buf)))
	binary.BigEndian.PutUint32(buf[3:7], sourceID)
	buf[7] = FormatPCM16LE
}

// MarshalAudio encodes an audio packet.
func MarshalAudio(sourceID, sequence uint32, captureTime time.Time, pcm []byte) ([]byte, error) {
	size := HeaderSize + AudioPayloadHeaderSize + len(pcm)
	if size > MaxPacketSize {
		return nil, fmt.Errorf("audio packet too large: %d bytes (maximum %d)", size, MaxPacketSize)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("PCM length must be even, got %d", len(pcm))
	}

	buf := make([]byte, size)
	putHeader(buf, PacketTypeAudio, sourceID)
	p := buf[HeaderSize:]
	binary.BigEndian.PutUint32(p[0:4], sequence)
	binary.BigEndian.PutUint64(p[4:12], uint64(captureTime.UnixMilli()))
	copy(p[AudioPayloadHeaderSize:], pcm)
	return buf, nil
}

// MarshalControl encodes a control packet. Names longer than 31 bytes are
// truncated to keep the terminator.
func MarshalControl(sourceID uint32, cmd Command, sampleRate uint32, ts time.Time, name string) []byte {
	buf := make([]byte, HeaderSize+ControlPayloadSize)
	putHeader(buf, PacketTypeControl, sourceID)
	p := buf[HeaderSize:]
	p[0] = byte(cmd)
	binary.BigEndian.PutUint32(p[1:5], sampleRate)
	binary.BigEndian.PutUint64(p[5:13], uint64(ts.UnixMilli()))
	if len(name) > SourceNameSize-1 {
		name = name[:SourceNameSize-1]
	}
	copy(p[13:], name)
	return buf
}

// String returns a human-readable representation of the header
func (h Header) String() string {
	var packetType string
	switch h.PacketType {
	case PacketTypeControl:
		packetType = "Control"
	case PacketTypeAudio:
		packetType = "Audio"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}
	return fmt.Sprintf("Header{Type:%s, Len:%d, SourceID:%d, Format:0x%02x}",
		packetType, h.PacketLen, h.SourceID, h.Format)
}

// String returns a human-readable representation of the control payload
func (c *ControlPayload) String() string {
	return fmt.Sprintf("ControlPayload{Command:%s, SampleRate:%d, Name:%q, Timestamp:%d}",
		c.Command, c.SampleRate, c.Name(), c.Timestamp)
}

// String returns a human-readable representation of the audio payload
func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{Sequence:%d, PCMLen:%d}", a.Sequence, len(a.PCM))
}
