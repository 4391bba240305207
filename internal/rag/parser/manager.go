package parser

import (
	"context"

	"github.com/rs/zerolog/log"
)

const sparseTextThreshold = 400

// Manager is the single point where parser choice is policy-driven; every
// consumer downstream only ever sees the resulting Manifest.
type Manager struct {
	// Advanced holds adapters tried in order before the fallback. When an
	// adapter's result looks sparse, the next supporting adapter here is
	// tried (see Parse).
	Advanced []Adapter
	// OCR is optional; nil means no OCR adapter is configured and the
	// auto-OCR fallback silently does nothing.
	OCR Adapter
	// Fallback always succeeds with a minimal manifest.
	Fallback Adapter
}

func NewManager(advanced []Adapter, ocr Adapter, fallback Adapter) *Manager {
	if fallback == nil {
		fallback = &SimpleFallbackAdapter{}
	}
	return &Manager{Advanced: advanced, OCR: ocr, Fallback: fallback}
}

// Parse runs the adapter cascade: the first advanced adapter
// supporting the MIME wins unless it yields zero tables or under 500 chars
// of text, in which case the next supporting adapter is tried. If nothing
// advanced applies, the fallback adapter always returns a minimal manifest
// tagged with the advanced_parser_unavailable warning.
func (m *Manager) Parse(ctx context.Context, path, mime string, method ParseMethod, prefer string) (*Manifest, error) {
	var best *Manifest
	for _, a := range m.Advanced {
		if !a.SupportsMIME(mime) {
			continue
		}
		man, err := a.Parse(ctx, path, mime, method, prefer)
		if err != nil {
			log.Warn().Err(err).Str("adapter", a.Name()).Msg("parser: advanced adapter failed")
			continue
		}
		if man == nil {
			continue
		}
		if best == nil {
			best = man
		}
		if man.TableCount() > 0 && man.TextChars() >= 500 {
			best = man
			break
		}
		// sparse result: keep looking but remember the best-so-far
		if man.TextChars() > best.TextChars() {
			best = man
		}
	}

	if best == nil {
		man, err := m.Fallback.Parse(ctx, path, mime, method, prefer)
		if err != nil {
			return nil, err
		}
		best = man
	}

	if method == MethodAuto && m.OCR != nil && best.TextChars() < sparseTextThreshold {
		ocrMan, err := m.OCR.Parse(ctx, path, mime, MethodOCR, prefer)
		if err != nil {
			log.Warn().Err(err).Msg("parser: ocr fallback failed")
		} else if ocrMan != nil && ocrMan.TextChars() > best.TextChars() {
			best = ocrMan
		}
	}
	if method == MethodOCR && m.OCR != nil {
		ocrMan, err := m.OCR.Parse(ctx, path, mime, MethodOCR, prefer)
		if err == nil && ocrMan != nil {
			best = ocrMan
		}
	}

	return best, nil
}
