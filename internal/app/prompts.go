package app

import gateway "github.com/Evronai/Project-AI-Assistant/internal"

// systemPrompts maps a feature tag to its system message.
var systemPrompts = map[string]string{
	gateway.FeatureTherapy:   "You are an empathetic project management coach. Be concise and actionable. Max 250 words.",
	gateway.FeatureSimulator: "You are a quantitative project scenario simulator. Give probabilistic estimates. Max 250 words.",
	gateway.FeatureInsights:  "You are a cross-project pattern recognition expert. Be specific. Max 250 words.",
	gateway.FeatureGeneral:   "You are a professional project management assistant. Max 250 words.",
}

// KnownFeature reports whether tag names a system prompt.
func KnownFeature(tag string) bool {
	_, ok := systemPrompts[tag]
	return ok
}

// NormalizeFeature maps empty and unknown tags to general.
func NormalizeFeature(tag string) string {
	if KnownFeature(tag) {
		return tag
	}
	return gateway.FeatureGeneral
}

// SystemPrompt returns the system message for tag. Unknown tags get the
// general prompt.
func SystemPrompt(tag string) string {
	return systemPrompts[NormalizeFeature(tag)]
}
