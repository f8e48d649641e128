package diffusion

import (
	"fmt"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"

	"github.com/Brownie44l1/model-gallery/internal/model"
)

// TokenizerURL is the published bert-base-uncased tokenizer definition.
const TokenizerURL = "https://huggingface.co/bert-base-uncased/resolve/main/tokenizer.json"

const (
	// MaxLength is the context length of the text encoder.
	MaxLength = 77
	sepToken  = 102
	padToken  = 0
)

// Tokenizer turns text into token ids including the special tokens.
type Tokenizer interface {
	Encode(text string) ([]int, error)
}

type bertTokenizer struct {
	tk *tokenizer.Tokenizer
}

// LoadTokenizer reads a tokenizer.json file.
func LoadTokenizer(path string) (Tokenizer, error) {
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer %s: %w", path, err)
	}
	return &bertTokenizer{tk: tk}, nil
}

func (b *bertTokenizer) Encode(text string) ([]int, error) {
	en, err := b.tk.EncodeSingle(text, true)
	if err != nil {
		return nil, err
	}
	return en.Ids, nil
}

// BERTEmbedder encodes prompts with a BERT style transformer split into a
// token embedding net and an attention stack.
type BERTEmbedder struct {
	Tokenizer Tokenizer
	Emb       model.Predictor
	Attn      model.Predictor
	MaxLength int
}

func NewBERTEmbedder(tk Tokenizer, emb, attn model.Predictor) *BERTEmbedder {
	return &BERTEmbedder{Tokenizer: tk, Emb: emb, Attn: attn, MaxLength: MaxLength}
}

// Tokens returns the [len(texts), MaxLength] id batch, truncated and padded
// to MaxLength. A truncated sequence keeps its closing separator.
func (e *BERTEmbedder) Tokens(texts []string) (*model.Int64Tensor, error) {
	ids := make([]int64, 0, len(texts)*e.MaxLength)
	for _, text := range texts {
		enc, err := e.Tokenizer.Encode(text)
		if err != nil {
			return nil, fmt.Errorf("failed to tokenize %q: %w", text, err)
		}
		if len(enc) > e.MaxLength {
			enc = append(enc[:e.MaxLength-1:e.MaxLength-1], sepToken)
		}
		for _, id := range enc {
			ids = append(ids, int64(id))
		}
		for i := len(enc); i < e.MaxLength; i++ {
			ids = append(ids, padToken)
		}
	}
	return model.NewInt64Tensor(ids, int64(len(texts)), int64(e.MaxLength)), nil
}

// Encode returns the conditioning tensor for texts.
func (e *BERTEmbedder) Encode(texts []string) (*model.Tensor, error) {
	tokens, err := e.Tokens(texts)
	if err != nil {
		return nil, err
	}
	out, err := e.Emb.Predict(tokens)
	if err != nil {
		return nil, fmt.Errorf("transformer_emb: %w", err)
	}
	out, err = e.Attn.Predict(out[0])
	if err != nil {
		return nil, fmt.Errorf("transformer_attn: %w", err)
	}
	return out[0], nil
}
