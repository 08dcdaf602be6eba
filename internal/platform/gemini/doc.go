// Package gemini implements vision.Analyzer on top of Google's Gemini API.
//
// Each Analyze call sends the extraction instructions followed by every
// image of an entry as a single multimodal request and asks for a JSON
// response. Image references resolved to URLs are sent as file data; byte
// references are sent inline.
package gemini
