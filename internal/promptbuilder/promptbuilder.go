// Package promptbuilder assembles the three adversarial-role prompts spec.md
// §4.6 defines: optimist (strict/balanced, with an optional non-citable
// history block), skeptic (deterministic auditor with embedded few-shot
// examples), and refiner (hallucination-removal rewrite). Grounded on
// original_source/services/rag_engine/pipelines/base.py's _build_prompt
// (Source/Content context join) and verified.py's _build_skeptic_prompt
// (CRITICAL RULES / AUDIT PROCESS / JSON schema instructions). The
// refiner prompt is NOT copied from verified.py's _build_refiner_prompt,
// which is a literal copy-paste of the skeptic prompt in the original
// source (a confirmed bug) — this package implements the refiner contract
// spec.md §4.6 actually describes instead.
package promptbuilder

import (
	"fmt"
	"strings"

	"aleutianrag/internal/ragtypes"
)

// Strictness selects the optimist's citation discipline.
type Strictness string

const (
	Strict   Strictness = "strict"
	Balanced Strictness = "balanced"
)

const maxDraftChars = 4000

// Builder assembles prompts given an evidence block and optional history.
type Builder struct {
	SkepticExamples string // few-shot block; falls back to built-in defaults when empty
}

// Optimist builds the draft-generation prompt.
func (b *Builder) Optimist(query, evidenceBlock string, strictness Strictness, history []ragtypes.ConversationTurn) string {
	var sb strings.Builder
	if strictness == Balanced {
		sb.WriteString("You are a careful research assistant. Citations to [Source N] are preferred when a source supports a claim; you may synthesize across sources, but you MUST flag any conflicts between sources explicitly.\n")
	} else {
		sb.WriteString("You are a careful research assistant. Every factual claim in your answer MUST be cited as [Source N]. Do not infer facts across sources. Do not use prior knowledge beyond the provided evidence.\n")
	}
	sb.WriteString("If the evidence does not contain the answer, say you don't have enough information from the provided documents.\n\n")

	if len(history) > 0 {
		sb.WriteString("Conversation History (Memory):\n")
		sb.WriteString("This block is NOT citable evidence. Use it only to resolve pronouns and implicit references in the question, never as a source of facts.\n")
		for _, turn := range history {
			sb.WriteString("Q: " + turn.Question + "\nA: " + turn.Answer + "\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Evidence:\n")
	if evidenceBlock == "" {
		sb.WriteString("No relevant context found.\n")
	} else {
		sb.WriteString(evidenceBlock + "\n")
	}
	sb.WriteString("\nQuestion: " + query + "\nAnswer:")
	return sb.String()
}

const builtinSkepticExamples = `Example 1 (verified):
Evidence: [Source 1]: The library was founded in 1920.
Answer: The library was founded in 1920 [Source 1].
Verdict: {"is_verified": true, "reasoning": "Claim exactly matches Source 1.", "hallucinations": [], "missing_evidence": []}

Example 2 (hallucination):
Evidence: [Source 1]: The library was founded in 1920.
Answer: The library was founded in 1920 by a committee of local merchants [Source 1].
Verdict: {"is_verified": false, "reasoning": "The merchants claim has no support in Source 1.", "hallucinations": ["founded by a committee of local merchants"], "missing_evidence": ["who founded the library"]}`

// Skeptic builds the deterministic auditor prompt.
func (b *Builder) Skeptic(query, proposedAnswer, evidenceText string) string {
	examples := b.SkepticExamples
	if examples == "" {
		examples = builtinSkepticExamples
	}
	return fmt.Sprintf(`You are a SKEPTICAL FACT-CHECKER auditing someone else's answer for hallucinations.

CRITICAL RULES:
1. ASSUME THE ANSWER IS WRONG until proven right by evidence.
2. Each claim needs DIRECT, EXPLICIT support - no assumptions or inferences.
3. If a claim requires connecting multiple sources or "reading between the lines", mark it as unsupported.
4. Vague or partial matches = HALLUCINATION.

%s

USER QUERY: %s

ANSWER TO AUDIT (treat this as potentially flawed):
%s

VERIFIED EVIDENCE (the ONLY truth source):
%s

AUDIT PROCESS:
Step 1: Break the answer into individual factual claims.
Step 2: For EACH claim, find its EXACT match in evidence (quote source number).
Step 3: If no exact match exists, add to hallucinations list.
Step 4: List what evidence is missing to fully answer the query.

Output ONLY valid JSON:
{
    "is_verified": boolean,
    "reasoning": "string",
    "hallucinations": ["claim 1 that lacks support", "claim 2..."],
    "missing_evidence": ["what info would be needed to verify hallucinations"]
}

REMEMBER: Being strict protects users from misinformation. When in doubt, mark as hallucination.`, examples, query, proposedAnswer, evidenceText)
}

// Refiner builds the hallucination-removal rewrite prompt. When
// hallucinations is empty, falls back to a generic accuracy-improvement
// instruction per spec.md §4.6.
func (b *Builder) Refiner(query, draft, evidenceText string, hallucinations []string) string {
	if len(draft) > maxDraftChars {
		draft = draft[:maxDraftChars]
	}
	instruction := "Make this answer more accurate and better supported by the evidence."
	if len(hallucinations) > 0 {
		var list strings.Builder
		for _, h := range hallucinations {
			list.WriteString("- " + h + "\n")
		}
		instruction = "Remove or correct the following unsupported claims, and nothing else:\n" + list.String()
	}
	return fmt.Sprintf(`You are refining a draft answer using only the evidence below. %s

You MUST NOT introduce any new facts not present in the evidence. Preserve every claim in the draft that is already well-supported.

USER QUERY: %s

DRAFT ANSWER:
%s

EVIDENCE:
%s

Rewrite the answer now.`, instruction, query, draft, evidenceText)
}
