package blit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainDescriptor = "blitter/descriptor/v1"
	DomainJob        = "blitter/job/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DescriptorHash computes a stable hash of the job configuration.
// Two contexts configured identically share a descriptor hash.
func DescriptorHash(d Descriptor) (string, error) {
	canonical, err := MarshalCanonical(d.object())
	if err != nil {
		return "", fmt.Errorf("DescriptorHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDescriptor, canonical), nil
}

// JobID computes the content-addressed ID of a job.
// The ID is stable given the same context, configuration, regions and seq.
func JobID(ctxID ContextID, d Descriptor, regions []Region, seq int64) (string, error) {
	descHash, err := DescriptorHash(d)
	if err != nil {
		return "", fmt.Errorf("JobID: %w", err)
	}
	regs := make([]any, len(regions))
	for i, r := range regions {
		regs[i] = r.object()
	}
	obj := map[string]any{
		"context_id": string(ctxID),
		"descriptor": descHash,
		"regions":    regs,
		"seq":        seq,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("JobID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainJob, canonical), nil
}

// MustJobID is like JobID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustJobID(ctxID ContextID, d Descriptor, regions []Region, seq int64) string {
	id, err := JobID(ctxID, d, regions, seq)
	if err != nil {
		panic(err)
	}
	return id
}

func (r Rect) object() map[string]any {
	return map[string]any{"x": r.X, "y": r.Y, "w": r.W, "h": r.H}
}

func (s Surface) object() map[string]any {
	return map[string]any{
		"addr":   s.Addr,
		"stride": s.Stride,
		"width":  s.Width,
		"height": s.Height,
		"format": string(s.Format),
	}
}

func (r Region) object() map[string]any {
	return map[string]any{"src": r.Src.object(), "dst": r.Dst.object()}
}

func (d Descriptor) object() map[string]any {
	obj := map[string]any{
		"op":     string(d.Op),
		"src":    d.Src.object(),
		"dst":    d.Dst.object(),
		"alpha":  d.Alpha,
		"rotate": int64(d.Rotate),
		"label":  d.Label,
	}
	if d.Clip != nil {
		obj["clip"] = d.Clip.object()
	}
	return obj
}
