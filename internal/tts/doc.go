// Package tts provides the streaming text-to-speech Engine. An Engine
// accepts text, streams the synthesized audio from a source through a
// bounded queue to an audio sink, and lets the caller pause, resume,
// interrupt and wait for the utterance. Only one session plays at a time;
// a new submission supersedes the previous one.
package tts
