package reference

import (
	"fmt"
	"strconv"
)

// Chain builds a File whose greedy decoding emits pieces in order and then
// the end token. The vocabulary holds <eos>, the 256 byte tokens and the
// pieces, which must be distinct. Used by tests and the demo model generator.
func Chain(name string, contextLength int, pieces ...string) File {
	vocab := []string{"<eos>"}
	for b := 0; b < 256; b++ {
		vocab = append(vocab, fmt.Sprintf("<0x%02X>", b))
	}
	ids := make([]int, len(pieces))
	for i, p := range pieces {
		if b, ok := byteToken(p); ok {
			ids[i] = 1 + int(b)
			continue
		}
		ids[i] = len(vocab)
		vocab = append(vocab, p)
	}
	f := File{
		Name:            name,
		Architecture:    "bigram",
		ContextLength:   contextLength,
		Vocab:           vocab,
		EOS:             0,
		DefaultLogit:    -10,
		Start:           map[string]float32{},
		Bigram:          map[string]map[string]float32{},
		WeightsBytes:    1 << 20,
		KVBytesPerToken: 1 << 10,
	}
	if len(ids) == 0 {
		f.Start["0"] = 10
		return f
	}
	// Prompts end in arbitrary tokens, so every token that is not part of the
	// chain leads into its first piece.
	f.Start[strconv.Itoa(ids[0])] = 10
	for id := 1; id < len(vocab); id++ {
		f.Bigram[strconv.Itoa(id)] = map[string]float32{strconv.Itoa(ids[0]): 10}
	}
	for i, id := range ids {
		next := 0
		if i+1 < len(ids) {
			next = ids[i+1]
		}
		f.Bigram[strconv.Itoa(id)] = map[string]float32{strconv.Itoa(next): 10}
	}
	return f
}
