// Package audio provides PCM conversion and level metering for capture buffers.
//
// The capture side of the pipeline produces floating-point samples at the
// hardware sample rate. The recognition service expects 16-bit little-endian
// PCM at a fixed target rate, so every capture buffer is decimated and
// requantized here before it becomes a frame on the wire.
package audio

import (
	"encoding/binary"
	"math"
)

const (
	// TargetSampleRate is the sample rate the recognition service consumes.
	TargetSampleRate = 16000

	// MinDB is the floor for decibel level calculations.
	MinDB = -100.0
)

// Downsample converts float samples at inRate to S16LE PCM bytes at outRate
// using nearest-neighbor decimation: output index i reads source index
// floor(i * inRate/outRate). No interpolation is applied; the recognition
// service tolerates the quality loss and the cheap path keeps the audio
// callback fast.
//
// When inRate == outRate the samples are only requantized. The output holds
// floor(len(samples) * outRate/inRate) samples, two bytes each.
func Downsample(samples []float32, inRate, outRate int) []byte {
	if inRate == outRate {
		return QuantizeS16LE(samples)
	}

	ratio := float64(inRate) / float64(outRate)
	outLen := int(float64(len(samples)) / ratio)

	out := make([]byte, outLen*2)
	srcIndex := 0.0
	for i := range outLen {
		s := samples[int(srcIndex)]
		putSampleLE(out[i*2:], s)
		srcIndex += ratio
	}
	return out
}

// QuantizeS16LE converts float samples to S16LE PCM bytes. Each sample is
// clamped to [-1, 1] before scaling to the signed 16-bit range.
func QuantizeS16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		putSampleLE(out[i*2:], s)
	}
	return out
}

// putSampleLE writes one clamped sample as little-endian int16.
// Negative samples scale by 0x8000 and positive by 0x7FFF so that both
// extremes map onto valid int16 values.
func putSampleLE(dst []byte, s float32) {
	clamped := max(-1, min(1, s))
	var v int16
	if clamped < 0 {
		v = int16(clamped * 0x8000)
	} else {
		v = int16(clamped * 0x7FFF)
	}
	binary.LittleEndian.PutUint16(dst, uint16(v))
}

// Level returns the mean absolute amplitude of the buffer scaled to [0, 255].
// The scale matches what the capture UI historically used for its meter, so
// gate thresholds stay comparable across clients.
func Level(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += math.Abs(float64(s))
	}
	return (sum / float64(len(samples))) * 255
}

// RMSDecibels returns the RMS level of the buffer in dBFS, floored at MinDB.
// It is an alternative gate metric for deployments tuned with dB thresholds.
func RMSDecibels(samples []float32) float64 {
	if len(samples) == 0 {
		return MinDB
	}
	var sumSquares float64
	for _, s := range samples {
		sumSquares += float64(s) * float64(s)
	}
	rms := math.Sqrt(sumSquares / float64(len(samples)))
	if rms <= 0 {
		return MinDB
	}
	return max(20*math.Log10(rms), MinDB)
}
