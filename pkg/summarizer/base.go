// Package summarizer provides the content compression collaborator used
// when a memory is promoted into a compression tier.
//
// Each provider wraps a chat-completion API. Compression is lossy on
// purpose: the further a memory advances, the less episodic detail it keeps.
package summarizer

import (
	"context"
	"fmt"

	"github.com/tiermem/tiermem-go/pkg/core"
)

// Provider is the summarization collaborator. A Compress failure aborts
// only the promotion of the record being processed, never the whole batch.
type Provider interface {
	// Compress rewrites content for the given target phase.
	Compress(ctx context.Context, content string, targetPhase core.Phase) (string, error)

	// Close releases provider resources.
	Close() error
}

// SystemPrompt is the system instruction shared by every backend.
const SystemPrompt = "You compress memories for a long-term memory system. " +
	"Reply with the compressed text only, no preamble and no commentary."

// Prompt builds the per-phase compression instruction sent as the user
// message. Non-compression target phases are a validation error.
func Prompt(content string, targetPhase core.Phase) (string, error) {
	var instruction string
	switch targetPhase {
	case core.PhaseCompressed1:
		instruction = "Condense the memory below to about half its length. " +
			"Keep concrete details: names, dates, places, outcomes."
	case core.PhaseCompressed2:
		instruction = "Compress the memory below to its essential points in one or two sentences. " +
			"Drop incidental detail but keep what happened and why it mattered."
	case core.PhaseSemantic:
		instruction = "Rewrite the memory below as one durable, general statement of fact. " +
			"Strip the episodic framing entirely."
	default:
		return "", core.NewMemoryError("Compress",
			fmt.Errorf("%w: phase %q is not a compression tier", core.ErrValidation, targetPhase))
	}
	return instruction + "\n\nMemory:\n" + content, nil
}
