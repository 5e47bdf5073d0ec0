package postprocess

import "testing"

func TestPunctuatorProcess(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"statement", "hello world how are you", "Hello World How are You."},
		{"question", "what time is it", "What Time is It?"},
		{"exclamation", "wow that is great", "Wow That is Great!"},
		{"keeps existing punctuation", "already done.", "Already Done."},
		{"standalone i", "i think i can", "I Think I Can."},
		{
			name:  "breaks after terminator word",
			input: "we should go to the store now and buy milk",
			want:  "We Should Go to the Store Now. And Buy Milk.",
		},
		{
			name:  "breaks after eight words",
			input: "one two three four five six seven eight nine",
			want:  "One Two Three Four Five Six Seven Eight. Nine.",
		},
	}

	p := NewPunctuator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Process(tt.input); got != tt.want {
				t.Errorf("Process(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}

	stats := p.GetStats()
	if stats.TextProcessed != uint64(len(tests)-1) {
		t.Errorf("TextProcessed = %d, want %d", stats.TextProcessed, len(tests)-1)
	}
	if stats.PunctuationAdded == 0 || stats.CapitalizationFixed == 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestCapitalizeWord(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"hello", "Hello"},
		{"hello,", "Hello,"},
		{"don't", "Don't"},
		{"NASA", "Nasa"},
		{"...", "..."},
	}
	for _, tt := range tests {
		if got := capitalizeWord(tt.in); got != tt.want {
			t.Errorf("capitalizeWord(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
