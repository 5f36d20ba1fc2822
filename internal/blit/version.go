package blit

// Version constants for the job encoding and the engine.
const (
	// EncodingVersion is the canonical job encoding version.
	EncodingVersion = "1"

	// EngineVersion is the blitter engine version.
	EngineVersion = "0.1.0"
)
