package postprocess

import (
	"math"
	"testing"
)

func TestAnalyzeText(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		want     Emotion
		wantConf float64
	}{
		{"positive with exclamation", "I love this, it is amazing!", EmotionPositive, 0.92},
		{"negative", "this is terrible and awful", EmotionNegative, 0.77},
		{"uncertain", "maybe it is fine, i guess", EmotionUncertain, 0.7},
		{"neutral", "the report is on the desk", EmotionNeutral, 0.3},
		{"empty", "", EmotionNeutral, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := AnalyzeText(tt.text)
			if got.Emotion != tt.want {
				t.Errorf("AnalyzeText(%q) emotion = %s, want %s", tt.text, got.Emotion, tt.want)
			}
			if math.Abs(got.Confidence-tt.wantConf) > 1e-9 {
				t.Errorf("AnalyzeText(%q) confidence = %f, want %f", tt.text, got.Confidence, tt.wantConf)
			}
		})
	}
}

func TestAnalyzeTextWholeWords(t *testing.T) {
	// "known" must not count as the negative keyword "no".
	_, sig := AnalyzeText("it is known")
	if sig.Keywords != 0 {
		t.Errorf("Keywords = %d, want 0", sig.Keywords)
	}

	_, sig = AnalyzeText("I CAN'T BELIEVE IT")
	if sig.CapitalizationRate != 1 {
		t.Errorf("CapitalizationRate = %f, want 1", sig.CapitalizationRate)
	}
}

func TestClassifyAudio(t *testing.T) {
	tests := []struct {
		name     string
		sig      AudioSignals
		want     Emotion
		wantConf float64
	}{
		{"excited", AudioSignals{PitchVariance: 80, SpeechRate: 10, AmplitudeDynamics: 0.4}, EmotionPositive, 0.64},
		{"agitated and slow", AudioSignals{PitchVariance: 80, SpeechRate: 1, AmplitudeDynamics: 0.05}, EmotionNegative, 0.64},
		{"flat and slow", AudioSignals{PitchVariance: 0, SpeechRate: 1}, EmotionNegative, 0.5},
		{"lively", AudioSignals{PitchVariance: 40, SpeechRate: 10}, EmotionPositive, 0.6},
		{"steady", AudioSignals{PitchVariance: 40, SpeechRate: 5, AmplitudeDynamics: 0.25}, EmotionNeutral, 0.46},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyAudio(tt.sig)
			if got.Emotion != tt.want || math.Abs(got.Confidence-tt.wantConf) > 1e-9 {
				t.Errorf("classifyAudio(%+v) = %+v, want %s %.2f", tt.sig, got, tt.want, tt.wantConf)
			}
		})
	}
}

func TestEmotionAnalyzer(t *testing.T) {
	textOnly, err := NewEmotionAnalyzer(0, 1)
	if err != nil {
		t.Fatalf("NewEmotionAnalyzer failed: %v", err)
	}
	if got := textOnly.Analyze(nil, 16000, "I love this, it is amazing!"); got.Emotion != EmotionPositive {
		t.Errorf("text-only analysis = %s, want positive", got.Emotion)
	}

	mixed, err := NewEmotionAnalyzer(0.6, 0.4)
	if err != nil {
		t.Fatalf("NewEmotionAnalyzer failed: %v", err)
	}
	got := mixed.Analyze(nil, 16000, "maybe it is fine, i guess")
	if got.Emotion != EmotionUncertain {
		t.Errorf("Analyze = %s, want uncertain", got.Emotion)
	}
	if math.Abs(got.Confidence-0.28) > 1e-9 {
		t.Errorf("Confidence = %f, want 0.28", got.Confidence)
	}
	if label := got.FormatLabel(); label != "UNCERTAIN (28%)" {
		t.Errorf("FormatLabel = %q", label)
	}

	// Silent audio reads neutral and pulls a positive text below the threshold.
	if got := mixed.Analyze(nil, 16000, "I love this, it is amazing!"); got.Emotion != EmotionNeutral {
		t.Errorf("Analyze = %s, want neutral", got.Emotion)
	}

	stats := mixed.GetStats()
	if stats.Analyzed != 2 {
		t.Errorf("Analyzed = %d, want 2", stats.Analyzed)
	}
	if stats.Distribution[EmotionUncertain] != 1 || stats.Distribution[EmotionNeutral] != 1 {
		t.Errorf("Distribution = %v", stats.Distribution)
	}
}

func TestNewEmotionAnalyzerValidation(t *testing.T) {
	tests := []struct {
		name        string
		audio, text float64
		wantErr     bool
	}{
		{"default weights", 0.6, 0.4, false},
		{"unnormalized", 3, 2, false},
		{"negative", -1, 1, true},
		{"zero sum", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEmotionAnalyzer(tt.audio, tt.text)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewEmotionAnalyzer(%v, %v) error = %v, wantErr %v", tt.audio, tt.text, err, tt.wantErr)
			}
		})
	}
}
