// Package audio provides cross-platform audio output using the oto/v3 library
// and the decode primitive (WAV, MP3, raw PCM) that turns synthesized bytes
// into buffers in the device's format.
package audio
