// Package extraction turns the raw text returned by the vision model into
// canonical medicine attributes.
//
// The model is asked for a single JSON object but may wrap it in prose or
// code fences, return numbers as strings, or add fields we don't know. The
// sanitizer tolerates all of that and only fails when nothing usable is left.
package extraction
