package llm

import (
	"github.com/pkoukk/tiktoken-go"
)

// fallbackEncoding is used when a model has no registered tokenizer.
const fallbackEncoding = "cl100k_base"

// CountTokens returns the number of tokens text occupies under the given
// model's tokenizer. Embedding calls report no usage, so their input cost
// is metered from this count.
//
// When no tokenizer is available at all, a conservative bytes/4 estimate
// is returned rather than failing the call.
func CountTokens(model, text string) int {
	if text == "" {
		return 0
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
	}
	if err != nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}
