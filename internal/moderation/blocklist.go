package moderation

// defaultTerms covers self-harm incitement, sexual solicitation, threats and
// common scam openers. Deployments wanting a stricter list pass their own
// terms to NewFilterWithTerms.
var defaultTerms = []string{
	// harassment and self-harm incitement
	"kill yourself",
	"kys",
	"go die",
	"hang yourself",

	// sexual solicitation
	"send nudes",
	"child porn",
	"cp trade",
	"show feet",

	// threats
	"bomb threat",
	"i will find you",
	"shoot up",

	// scams
	"free bitcoin",
	"crypto giveaway",
	"cashapp me",
	"onlyfans link",
}
