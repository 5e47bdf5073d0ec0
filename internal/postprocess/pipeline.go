package postprocess

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/skypro1111/overlay-transcriber/internal/audio"
	"github.com/skypro1111/overlay-transcriber/internal/config"
	apperrors "github.com/skypro1111/overlay-transcriber/internal/errors"
	"github.com/skypro1111/overlay-transcriber/internal/syncx"
	"github.com/skypro1111/overlay-transcriber/internal/transcription"
)

// Stage names a post-processing step.
type Stage string

const (
	StagePunctuation Stage = "punctuation"
	StageVocabulary  Stage = "vocabulary"
	StageGrammar     Stage = "grammar"
	StageLanguage    Stage = "language"
	StageDiarization Stage = "diarization"
	StageEmotion     Stage = "emotion"
)

// Stages lists every stage in execution order.
var Stages = []Stage{
	StagePunctuation,
	StageVocabulary,
	StageGrammar,
	StageLanguage,
	StageDiarization,
	StageEmotion,
}

// Stats aggregates the statistics of every stage.
type Stats struct {
	Enabled     map[Stage]bool  `json:"enabled"`
	Processed   uint64          `json:"processed"`
	StageErrors uint64          `json:"stage_errors"`
	Punctuation PunctuatorStats `json:"punctuation"`
	Vocabulary  VocabularyStats `json:"vocabulary"`
	Grammar     GrammarStats    `json:"grammar"`
	Language    LanguageStats   `json:"language"`
	Diarization DiarizerStats   `json:"diarization"`
	Emotion     EmotionStats    `json:"emotion"`
}

type pipelineCounters struct {
	processed   uint64
	stageErrors uint64
}

// Pipeline enriches transcription results in a fixed stage order. A
// disabled stage passes the result through unchanged, and a failing
// stage leaves the result as the previous stage produced it.
type Pipeline struct {
	punctuator *Punctuator
	vocabulary *Vocabulary
	grammar    *GrammarCorrector
	language   *LanguageDetector
	diarizer   *Diarizer
	emotion    *EmotionAnalyzer

	speakerThreshold float64

	enabled  *syncx.RWGuard[map[Stage]bool]
	counters *syncx.RWGuard[pipelineCounters]
	logger   *slog.Logger

	// OnStage, when set, receives the duration of every executed stage.
	OnStage func(stage Stage, elapsed time.Duration)
}

// NewPipeline builds every stage from the configuration. Stages are
// always constructed so they can be enabled at runtime.
func NewPipeline(cfg config.PostProcessConfig, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	language, err := NewLanguageDetector(cfg.Language.Default)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInitialization, "failed to create language detector")
	}
	diarizer, err := NewDiarizer(DiarizerConfig{
		MaxSpeakers:        cfg.Diarization.MaxSpeakers,
		ClusteringDistance: cfg.Diarization.ClusteringDistance,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInitialization, "failed to create diarizer")
	}
	emotion, err := NewEmotionAnalyzer(cfg.Emotion.AudioWeight, cfg.Emotion.TextWeight)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInitialization, "failed to create emotion analyzer")
	}

	vocabulary := NewVocabulary(VocabularyOptions{
		CaseSensitive:  cfg.Vocabulary.CaseSensitive,
		WholeWordsOnly: cfg.Vocabulary.WholeWordsOnly,
		AutoLearn:      cfg.Vocabulary.AutoLearn,
	})
	if cfg.Vocabulary.File != "" {
		n, err := vocabulary.LoadFile(cfg.Vocabulary.File)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.KindInitialization, "failed to load vocabulary")
		}
		logger.Info("Vocabulary loaded", slog.String("file", cfg.Vocabulary.File), slog.Int("entries", n))
	}

	p := &Pipeline{
		punctuator: NewPunctuator(),
		vocabulary: vocabulary,
		grammar: NewGrammarCorrector(GrammarOptions{
			FixRepetitions:     cfg.Grammar.FixRepetitions,
			FixVerbs:           cfg.Grammar.FixVerbs,
			ExpandContractions: cfg.Grammar.ExpandContractions,
			RemoveFillers:      cfg.Grammar.RemoveFillers,
			AddArticles:        cfg.Grammar.AddArticles,
		}),
		language:         language,
		diarizer:         diarizer,
		emotion:          emotion,
		speakerThreshold: cfg.Diarization.ConfidenceThreshold,
		enabled: syncx.NewGuard(map[Stage]bool{
			StagePunctuation: cfg.Punctuation.Enabled,
			StageVocabulary:  cfg.Vocabulary.Enabled,
			StageGrammar:     cfg.Grammar.Enabled,
			StageLanguage:    cfg.Language.Enabled,
			StageDiarization: cfg.Diarization.Enabled,
			StageEmotion:     cfg.Emotion.Enabled,
		}),
		counters: syncx.NewGuard(pipelineCounters{}),
		logger:   logger,
	}
	return p, nil
}

// Process runs the enabled stages on res. chunk supplies the audio for
// diarization and emotion analysis and may be nil.
func (p *Pipeline) Process(res *transcription.Result, chunk *audio.Chunk) {
	enabled := p.Enabled()

	var pcm []byte
	sampleRate := 0
	if chunk != nil {
		pcm, sampleRate = chunk.Data, chunk.SampleRate
	}

	for _, stage := range Stages {
		if !enabled[stage] {
			continue
		}
		p.run(stage, res, func() {
			switch stage {
			case StagePunctuation:
				res.Text = p.punctuator.Process(res.Text)
			case StageVocabulary:
				res.Text = p.vocabulary.Apply(res.Text)
			case StageGrammar:
				res.Text = p.grammar.Correct(res.Text)
			case StageLanguage:
				lang, _ := p.language.Detect(res.Text)
				if res.Language == "" {
					res.Language = lang
				}
			case StageDiarization:
				if len(pcm) == 0 {
					return
				}
				speaker := p.diarizer.Analyze(pcm, sampleRate)
				if speaker.Confidence >= p.speakerThreshold {
					res.Speaker = speaker.Label
					res.SpeakerConfidence = speaker.Confidence
				}
			case StageEmotion:
				e := p.emotion.Analyze(pcm, sampleRate, res.Text)
				res.Emotion = string(e.Emotion)
				res.EmotionConfidence = e.Confidence
			}
		})
	}

	p.counters.Write(func(c *pipelineCounters) { c.processed++ })
}

// run executes one stage, restoring the text it started from if the stage
// panics.
func (p *Pipeline) run(stage Stage, res *transcription.Result, fn func()) {
	start := time.Now()
	before := *res
	defer func() {
		if r := recover(); r != nil {
			*res = before
			p.counters.Write(func(c *pipelineCounters) { c.stageErrors++ })
			p.logger.Error("Post-processing stage failed",
				slog.String("stage", string(stage)),
				slog.Uint64("chunk_id", res.ChunkID),
				slog.String("panic", fmt.Sprint(r)))
		}
		if p.OnStage != nil {
			p.OnStage(stage, time.Since(start))
		}
	}()
	fn()
}

// SetEnabled toggles a stage at runtime.
func (p *Pipeline) SetEnabled(stage Stage, on bool) error {
	known := false
	for _, s := range Stages {
		if s == stage {
			known = true
			break
		}
	}
	if !known {
		return apperrors.Newf(apperrors.KindValidation, "unknown post-processing stage: %s", stage)
	}
	p.enabled.Write(func(m *map[Stage]bool) { (*m)[stage] = on })
	return nil
}

// Enabled returns a copy of the stage toggles.
func (p *Pipeline) Enabled() map[Stage]bool {
	return syncx.Read(p.enabled, func(m *map[Stage]bool) map[Stage]bool {
		out := make(map[Stage]bool, len(*m))
		for k, v := range *m {
			out[k] = v
		}
		return out
	})
}

// Vocabulary exposes the vocabulary for edits.
func (p *Pipeline) Vocabulary() *Vocabulary { return p.vocabulary }

// Grammar exposes the grammar corrector for custom rules.
func (p *Pipeline) Grammar() *GrammarCorrector { return p.grammar }

// Language exposes the language detector.
func (p *Pipeline) Language() *LanguageDetector { return p.language }

// Diarizer exposes the diarizer.
func (p *Pipeline) Diarizer() *Diarizer { return p.diarizer }

// Reset clears session state: speaker profiles and the detected language.
// Vocabulary survives a reset.
func (p *Pipeline) Reset() {
	p.diarizer.Reset()
	p.language.Reset()
}

// GetStats returns the statistics of every stage.
func (p *Pipeline) GetStats() Stats {
	c := p.counters.Get()
	return Stats{
		Enabled:     p.Enabled(),
		Processed:   c.processed,
		StageErrors: c.stageErrors,
		Punctuation: p.punctuator.GetStats(),
		Vocabulary:  p.vocabulary.GetStats(),
		Grammar:     p.grammar.GetStats(),
		Language:    p.language.GetStats(),
		Diarization: p.diarizer.GetStats(),
		Emotion:     p.emotion.GetStats(),
	}
}
