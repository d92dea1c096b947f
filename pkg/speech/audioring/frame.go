package audioring

import (
	"encoding/binary"
	"errors"
	"time"
)

// headerSize is seq(8) + timestamp(8) + sampleRate(4) + channels(2) + dataLen(4).
const headerSize = 8 + 8 + 4 + 2 + 4

// FrameOverhead is what a frame costs in the ring beyond its PCM bytes:
// the length prefix plus the header.
const FrameOverhead = 4 + headerSize

var errShortFrame = errors.New("audioring: frame shorter than header")

// Frame is one fixed-size chunk of raw PCM read from the microphone.
type Frame struct {
	Seq        uint64
	Data       []byte
	Timestamp  time.Time
	SampleRate int32
	Channels   int16
}

func (f *Frame) MarshalBinary() ([]byte, error) {
	buf := make([]byte, headerSize+len(f.Data))

	offset := 0
	binary.LittleEndian.PutUint64(buf[offset:], f.Seq)
	offset += 8
	binary.LittleEndian.PutUint64(buf[offset:], uint64(f.Timestamp.UnixNano()))
	offset += 8
	binary.LittleEndian.PutUint32(buf[offset:], uint32(f.SampleRate))
	offset += 4
	binary.LittleEndian.PutUint16(buf[offset:], uint16(f.Channels))
	offset += 2
	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(f.Data)))
	offset += 4
	copy(buf[offset:], f.Data)

	return buf, nil
}

func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < headerSize {
		return errShortFrame
	}

	offset := 0
	f.Seq = binary.LittleEndian.Uint64(data[offset:])
	offset += 8
	f.Timestamp = time.Unix(0, int64(binary.LittleEndian.Uint64(data[offset:])))
	offset += 8
	f.SampleRate = int32(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4
	f.Channels = int16(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2
	dataLen := int(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4

	if len(data[offset:]) < dataLen {
		return errShortFrame
	}
	f.Data = make([]byte, dataLen)
	copy(f.Data, data[offset:offset+dataLen])
	return nil
}
