package openai

// DefaultBaseURL is the OpenAI-compatible endpoint root.
const DefaultBaseURL = "https://api.openai.com/v1"

// AdapterVersion identifies this adapter build in Describe output.
const AdapterVersion = "1.0.0"

// supportedModels lists the models this adapter accepts without an
// explicit override. Gateways exposing other model ids pass them through
// via the request's Model field.
var supportedModels = []string{
	"gpt-4o",
	"gpt-4o-mini",
	"gpt-4-turbo",
	"gpt-4",
	"gpt-3.5-turbo",
}
