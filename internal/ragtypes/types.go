// Package ragtypes holds the shared data model for the RAG core: retrieved
// documents, session scoping, the verification state machine's records, and
// the stateless agent-step wire shapes. Nothing here talks to a network or a
// store; it is read and written by every other internal package.
package ragtypes

import "time"

// Document is a retrieved passage. Chunks sharing a ParentSource belong to
// the same logical source document and are retrievable as a group via
// fetch_by_parent_sources.
type Document struct {
	Content      string
	Source       string
	ParentSource string
	InSession    string // empty means global (reference count on in_session is zero)
	Metadata     DocumentMetadata
}

// DocumentMetadata carries the optional, retrieval-stage-populated fields.
// Distance and RerankScore are pointers so "not yet computed" is distinguishable
// from zero.
type DocumentMetadata struct {
	Distance    *float64
	RerankScore *float64
	IsHistory   bool
	TurnNumber  *int
}

// ConversationTurn is injected as a pseudo-document so history can compete
// with retrieved documents during reranking.
type ConversationTurn struct {
	Question        string
	Answer          string
	TurnNumber      *int
	SimilarityScore *float64
}

const historyAnswerMaxCharsDefault = 300

// ToDocument renders the turn as a pseudo-document per the contract in
// SPEC_FULL.md §4.4: content is a fixed template, source is
// conversation_history_turn_{n|unknown}, is_history is always true.
func (t ConversationTurn) ToDocument(maxAnswerChars int) Document {
	if maxAnswerChars <= 0 {
		maxAnswerChars = historyAnswerMaxCharsDefault
	}
	answer := t.Answer
	if len(answer) > maxAnswerChars {
		answer = answer[:maxAnswerChars] + "…"
	}
	source := "conversation_history_turn_unknown"
	if t.TurnNumber != nil {
		source = "conversation_history_turn_" + itoa(*t.TurnNumber)
	}
	return Document{
		Content:  "Previous conversation:\nQ: " + t.Question + "\nA: " + answer,
		Source:   source,
		Metadata: DocumentMetadata{IsHistory: true, TurnNumber: t.TurnNumber},
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// SkepticAudit is the structured verdict produced once per verification attempt.
type SkepticAudit struct {
	IsVerified      bool
	Reasoning       string
	Hallucinations  []string
	MissingEvidence []string
}

// VerificationState tracks the mutable state owned exclusively by the
// VerifiedEngine for the duration of one run.
type VerificationState struct {
	CurrentAnswer   string
	AttemptCount    int
	IsFinalVerified bool
	History         []SkepticAudit
}

// AddAudit appends an audit and advances the attempt counter, preserving the
// invariant attempt_count == len(history).
func (s *VerificationState) AddAudit(a SkepticAudit) {
	s.History = append(s.History, a)
	s.AttemptCount++
}

// MarkVerified sets the terminal verified flag.
func (s *VerificationState) MarkVerified() { s.IsFinalVerified = true }

// ProgressEventType enumerates the labeled VerifiedEngine transitions a
// progress callback may observe.
type ProgressEventType string

const (
	EventRetrievalStart        ProgressEventType = "retrieval_start"
	EventRetrievalComplete     ProgressEventType = "retrieval_complete"
	EventDraftStart            ProgressEventType = "draft_start"
	EventDraftComplete         ProgressEventType = "draft_complete"
	EventSkepticAuditStart     ProgressEventType = "skeptic_audit_start"
	EventSkepticAuditComplete  ProgressEventType = "skeptic_audit_complete"
	EventRefinementStart       ProgressEventType = "refinement_start"
	EventRefinementComplete    ProgressEventType = "refinement_complete"
	EventVerificationComplete ProgressEventType = "verification_complete"
	EventError                 ProgressEventType = "error"
)

// RetrievalDetails is attached to retrieval_complete at verbosity 2.
type RetrievalDetails struct {
	DocumentCount   int
	Sources         []string
	HasRelevantDocs bool
}

// AuditDetails mirrors SkepticAudit plus the sources the audit cited,
// attached to skeptic_audit_complete at verbosity 2.
type AuditDetails struct {
	SkepticAudit
	SourcesCited []int
}

// ProgressEvent is emitted by VerifiedEngine.RunWithProgress at every
// labeled transition.
type ProgressEvent struct {
	EventType       ProgressEventType
	Message         string
	Timestamp       time.Time
	Attempt         int
	TraceID         string
	RetrievalDetails *RetrievalDetails
	AuditDetails     *AuditDetails
	ErrorMessage     string
}

// DebateLogRecord is persisted for every verified run that carries a session.
type DebateLogRecord struct {
	Query             string
	DraftAnswer       string
	SkepticCritique   string
	HallucinationsFound []string
	FinalAnswer       string
	WasRefined        bool
	IsVerified        bool
	AttemptCount      int
	SessionID         string
	Timestamp         time.Time
	TraceID           string
}

const (
	maxDebateFieldChars = 4000
)

// Truncated returns a copy of the record with long text fields bounded,
// per SPEC_FULL.md §3's "long fields are truncated to bounded caps."
func (r DebateLogRecord) Truncated() DebateLogRecord {
	cap := func(s string) string {
		if len(s) > maxDebateFieldChars {
			return s[:maxDebateFieldChars] + "… [truncated]"
		}
		return s
	}
	r.Query = cap(r.Query)
	r.DraftAnswer = cap(r.DraftAnswer)
	r.SkepticCritique = cap(r.SkepticCritique)
	r.FinalAnswer = cap(r.FinalAnswer)
	return r
}

// ToolCall is the wire envelope normalized across provider tool-call formats.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// AgentMessage is one turn of accumulated agent history.
type AgentMessage struct {
	Role       string // "user", "assistant", "tool"
	Content    string
	ToolCallID string
	ToolCalls  []ToolCall
}

// AgentStepRequest carries the accumulated history plus the original query.
type AgentStepRequest struct {
	Query   string
	History []AgentMessage
}

// AgentStepResponse is either an answer or a single tool call instruction.
type AgentStepResponse struct {
	Type    string // "answer" or "tool_call"
	Content string
	Tool    string
	Args    map[string]any
	ToolID  string
}

// Source is the user-facing citation summary attached to an answer.
type Source struct {
	Source   string
	Distance *float64
	Score    *float64
}
