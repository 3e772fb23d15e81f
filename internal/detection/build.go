package detection

import (
	"github.com/tphakala/entityindex/internal/canon"
	"github.com/tphakala/entityindex/internal/conf"
	"github.com/tphakala/entityindex/internal/logger"
	"github.com/tphakala/entityindex/internal/toolexec"
)

// Deps are the collaborators detectors are built from. A nil embedder
// leaves open_vocab and verify out; a nil captioner leaves discovery out.
type Deps struct {
	Canon    *canon.Canonicalizer
	Embedder ImageTextEmbedder
	Captions Captioner
	Runner   toolexec.Runner
	Recorder Recorder
	Log      logger.Logger
}

// NewFromSettings assembles the ensemble for the enabled detectors. Members
// run in a fixed order: object, open_vocab, discovery, ocr, then verify.
func NewFromSettings(s *conf.DetectionSettings, deps Deps) *Ensemble {
	log := deps.Log
	if log == nil {
		log = logger.Global().Module("detection")
	}
	e := NewEnsemble(deps.Canon, deps.Recorder, log)

	if s.Object.Enabled {
		e.Add(NewObjectDetector(s.Object, log.Module("object")),
			MemberOptions{Every: s.Object.Every, Required: s.Object.Required})
	}

	if s.OpenVocab.Enabled {
		if deps.Embedder != nil {
			e.Add(NewOpenVocabDetector(s.OpenVocab, deps.Embedder),
				MemberOptions{Every: s.OpenVocab.Every, Required: s.OpenVocab.Required})
		} else {
			log.Warn("open_vocab enabled without an image embedder, skipping")
		}
	}

	if s.Discovery.Enabled {
		if deps.Captions != nil {
			e.Add(NewDiscoveryDetector(s.Discovery, deps.Captions, e.canon),
				MemberOptions{Every: s.Discovery.Every, Required: s.Discovery.Required})
		} else {
			log.Warn("discovery enabled without a captioner, skipping")
		}
	}

	if s.OCR.Enabled {
		e.Add(NewOCRDetector(s.OCR, deps.Runner),
			MemberOptions{Every: s.OCR.Every, Required: s.OCR.Required})
	}

	if s.Verify.Enabled {
		if deps.Embedder != nil {
			e.AddCorroborator(NewVerifier(s.Verify, s.OpenVocab.Prompt, deps.Embedder),
				MemberOptions{Every: s.Verify.Every})
		} else {
			log.Warn("verify enabled without an image embedder, skipping")
		}
	}

	return e
}
