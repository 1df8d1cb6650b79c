package analyzer

import (
	"reflect"
	"testing"
)

func TestTokenizer_Tokenize_WithStemming(t *testing.T) {
	tok := NewTokenizer(true)

	tokens := tok.Tokenize("running dogs are playing")
	expected := []string{"run", "dog", "play"}
	if !reflect.DeepEqual(tokens, expected) {
		t.Errorf("expected %v, got %v", expected, tokens)
	}
}

func TestTokenizer_Tokenize_WithoutStemming(t *testing.T) {
	tok := NewTokenizer(false)

	tokens := tok.Tokenize("running dogs are playing")
	expected := []string{"running", "dogs", "playing"}
	if !reflect.DeepEqual(tokens, expected) {
		t.Errorf("expected %v, got %v", expected, tokens)
	}
}

func TestTokenizer_StopwordAndShortWordRemoval(t *testing.T) {
	tok := NewTokenizer(false)

	tokens := tok.Tokenize("The thunder of a god, I say")
	expected := []string{"thunder", "god", "say"}
	if !reflect.DeepEqual(tokens, expected) {
		t.Errorf("expected %v, got %v", expected, tokens)
	}
}

func TestTokenizer_ProsePunctuation(t *testing.T) {
	tok := NewTokenizer(false)

	tokens := tok.Tokenize("\u201cThe keeper\u2019s lamp,\u201d she said. 'Vey's light!'")
	expected := []string{"keeper", "lamp", "vey", "light"}
	if !reflect.DeepEqual(tokens, expected) {
		t.Errorf("expected %v, got %v", expected, tokens)
	}
}

func TestTokenizer_KeepsShortNonLatinWords(t *testing.T) {
	tok := NewTokenizer(false)

	tokens := tok.Tokenize("Île de Tír na nÓg")
	expected := []string{"île", "de", "tír", "na", "nóg"}
	if !reflect.DeepEqual(tokens, expected) {
		t.Errorf("expected %v, got %v", expected, tokens)
	}
}

func TestLightStemmer(t *testing.T) {
	s := NewLightStemmer()

	tests := map[string]string{
		"thunderbolts": "thunderbolt",
		"stories":      "story",
		"glasses":      "glass",
		"corpus":       "corpus",
		"hurled":       "hurl",
		"running":      "run",
		"falling":      "fall",
		"sing":         "sing",
		"red":          "red",
		"olympus":      "olympus",
	}

	for in, want := range tests {
		if got := s.Stem(in); got != want {
			t.Errorf("Stem(%q) = %q, want %q", in, got, want)
		}
	}
}
