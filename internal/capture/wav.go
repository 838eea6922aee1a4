package capture

import (
	"bytes"
	"encoding/binary"
)

// encodeWAV wraps raw PCM16LE mono bytes in a WAV container.
func encodeWAV(pcm []byte, sampleRate int) []byte {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))

	buf.WriteString("RIFF")
	writeLE(&buf, uint32(36)+dataSize)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	writeLE(&buf, uint32(16))
	writeLE(&buf, uint16(audioFormat))
	writeLE(&buf, uint16(numChannels))
	writeLE(&buf, uint32(sampleRate))
	writeLE(&buf, byteRate)
	writeLE(&buf, blockAlign)
	writeLE(&buf, uint16(bitsPerSample))

	buf.WriteString("data")
	writeLE(&buf, dataSize)
	buf.Write(pcm)

	return buf.Bytes()
}

func writeLE(buf *bytes.Buffer, v any) {
	// Writing into a bytes.Buffer cannot fail.
	_ = binary.Write(buf, binary.LittleEndian, v)
}
