// Package textprep turns user input into text ready for synthesis. It
// normalizes Unicode and whitespace, renders Markdown to plain speech text,
// splits text into sentences and packs sentences into segments that fit the
// engine's request limit.
package textprep
