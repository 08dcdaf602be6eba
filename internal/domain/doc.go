// Package domain contains the core business entities, value objects, and
// domain logic of the application: batch entries, their uploaded images,
// the analysis/approval state machine and the canonical medicine attributes
// extracted from packaging photographs. It is independent of any specific
// infrastructure or delivery mechanism.
package domain
