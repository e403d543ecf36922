package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	wavHeaderSize  = 44
	bitsPerSample  = 16
	bytesPerSample = bitsPerSample / 8
)

// wavFile streams 16-bit PCM into a RIFF/WAVE file and patches the sizes on Close.
type wavFile struct {
	f          *os.File
	sampleRate int
	channels   int
	dataBytes  int64
}

func createWAV(path string, sampleRate, channels int) (*wavFile, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if channels <= 0 {
		channels = 1
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create capture file: %w", err)
	}

	w := &wavFile{f: f, sampleRate: sampleRate, channels: channels}
	if _, err := f.Write(wavHeader(sampleRate, channels, 0)); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("write wav header: %w", err)
	}
	return w, nil
}

func (w *wavFile) Write(pcm []byte) (int, error) {
	n, err := w.f.Write(pcm)
	w.dataBytes += int64(n)
	return n, err
}

// Close rewrites the header with final sizes, syncs, and closes the file.
func (w *wavFile) Close() error {
	if w.dataBytes > int64(^uint32(0))-36 {
		_ = w.f.Close()
		return errors.New("capture exceeds wav size limit")
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("rewind wav: %w", err)
	}
	if _, err := w.f.Write(wavHeader(w.sampleRate, w.channels, uint32(w.dataBytes))); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("patch wav header: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("sync wav: %w", err)
	}
	return w.f.Close()
}

func (w *wavFile) duration() float64 {
	return float64(w.dataBytes) / float64(w.sampleRate*w.channels*bytesPerSample)
}

func wavHeader(sampleRate, channels int, dataSize uint32) []byte {
	byteRate := sampleRate * channels * bytesPerSample
	blockAlign := channels * bytesPerSample

	header := make([]byte, wavHeaderSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36+dataSize)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], dataSize)
	return header
}
