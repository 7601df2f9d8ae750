package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/extractor.txt
	extractorRaw string

	//go:embed template/router.txt
	routerRaw string

	//go:embed template/responder.txt
	responderRaw string

	//go:embed template/vision.txt
	visionRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Extractor string
	Router    string
	Responder string
	Vision    string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
// Safe to call concurrently; the embed is compile-time and trimming is cheap.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Extractor: strings.TrimSpace(extractorRaw),
		Router:    strings.TrimSpace(routerRaw),
		Responder: strings.TrimSpace(responderRaw),
		Vision:    strings.TrimSpace(visionRaw),
	}
}
