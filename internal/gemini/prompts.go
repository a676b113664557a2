package gemini

// YesNoSuffix is appended to every classification instruction so the model
// answers with a single parseable token.
const YesNoSuffix = "\n\n[CRITICAL] Reply with exactly one word, YES or NO. Do not explain."
