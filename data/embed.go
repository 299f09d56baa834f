// Package data holds embedded assets (the default question battery) at repo root data/ for clarity.
package data

import _ "embed"

//go:embed questions.json
var QuestionsJSON []byte
