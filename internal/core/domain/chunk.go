package domain

import (
	"fmt"
	"strings"
)

// ChunkRecord is one immutable span of source text produced by ingestion.
type ChunkRecord struct {
	ChunkID       string `json:"chunk_id"`
	DocID         string `json:"doc_id"`
	SourceURL     string `json:"url"`
	Kind          string `json:"kind,omitempty"`
	Text          string `json:"text"`
	CharStart     int    `json:"start_char"`
	CharEnd       int    `json:"end_char"`
	TokenEstimate int    `json:"token_estimate"`
	CreatedAt     string `json:"created_at,omitempty"`
}

// Validate checks the record at the ingestion boundary into the core.
func (c ChunkRecord) Validate() error {
	switch {
	case strings.TrimSpace(c.ChunkID) == "":
		return WrapError(ErrInvalidInput, "validate chunk", fmt.Errorf("chunk_id is empty"))
	case strings.TrimSpace(c.Text) == "":
		return WrapError(ErrInvalidInput, "validate chunk", fmt.Errorf("chunk %s has empty text", c.ChunkID))
	case c.CharStart < 0 || c.CharEnd < c.CharStart:
		return WrapError(ErrInvalidInput, "validate chunk", fmt.Errorf("chunk %s has invalid span %d-%d", c.ChunkID, c.CharStart, c.CharEnd))
	case c.TokenEstimate < 0:
		return WrapError(ErrInvalidInput, "validate chunk", fmt.Errorf("chunk %s has negative token estimate", c.ChunkID))
	}
	return nil
}

// DocumentKey falls back to the chunk id so that records without a doc_id
// still count as a distinct source.
func (c ChunkRecord) DocumentKey() string {
	if c.DocID != "" {
		return c.DocID
	}
	return c.ChunkID
}
