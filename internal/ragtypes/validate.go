package ragtypes

import "errors"

// ValidateDocument checks the Document format contract: non-empty content and
// source, rerank_score in [0,1], distance >= 0. Neither ToDocument nor the
// retriever calls it; it runs only where a caller invokes it explicitly.
func ValidateDocument(d Document) error {
	if d.Content == "" {
		return errors.New("ragtypes: document content must not be empty")
	}
	if d.Source == "" {
		return errors.New("ragtypes: document source must not be empty")
	}
	if d.Metadata.RerankScore != nil {
		s := *d.Metadata.RerankScore
		if s < 0 || s > 1 {
			return errors.New("ragtypes: rerank_score must be in [0,1]")
		}
	}
	if d.Metadata.Distance != nil && *d.Metadata.Distance < 0 {
		return errors.New("ragtypes: distance must be >= 0")
	}
	return nil
}
