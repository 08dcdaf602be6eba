// Package openai implements vision.Analyzer against any OpenAI-compatible
// chat completions endpoint that accepts image_url message parts.
package openai
