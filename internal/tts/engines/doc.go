// Package engines contains implementations of speech synthesis engines.
// Currently supports the OpenAI speech endpoint, a generic HTTP speech
// relay, and an offline tone generator. Each engine implements the
// ttypes.Synthesizer interface.
package engines
