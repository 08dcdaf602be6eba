// Package vision defines the contract with the external vision model that
// reads medicine packaging photographs, plus the extraction instructions sent
// with every request. Provider clients live under internal/platform.
package vision
