// Package corpus resolves regulatory passage text by citation. Passage
// files are JSON arrays exported from the indexing pipeline, fetched
// through the afs abstract storage layer so local files, object stores
// and HTTP sources all work with the same URLs.
package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/viant/afs"

	"github.com/alanbjordan/Veteran-Support-Agent/internal/log"
)

// Corpus names a regulatory text collection.
type Corpus string

const (
	// CorpusCFR is Title 38 of the Code of Federal Regulations.
	CorpusCFR Corpus = "CFR"
	// CorpusM21 is the VA Adjudication Procedures Manual.
	CorpusM21 Corpus = "M21"
)

// Key identifies one passage: a section or article number plus the
// partition it lives in (CFR part "3"/"4", or manual "M21-1"/"M21-5").
type Key struct {
	Number    string
	Partition string
}

// Source declares one passage file to index.
type Source struct {
	Corpus    Corpus
	Partition string
	URL       string
}

// passage mirrors one entry of an exported passage file. CFR entries carry
// section_number/part_number metadata, M21 entries article_number/manual.
type passage struct {
	Text     string `json:"text"`
	Metadata struct {
		SectionNumber string `json:"section_number"`
		PartNumber    string `json:"part_number"`
		ArticleNumber string `json:"article_number"`
		Manual        string `json:"manual"`
	} `json:"metadata"`
}

// Store caches passage text keyed by citation. Each source file is fetched
// and indexed at most once; a failed fetch marks the source spent so a
// broken URL cannot stall every request.
type Store struct {
	fs     afs.Service
	logger log.Logger

	mu      sync.Mutex
	sources []Source
	loaded  map[string]bool
	texts   map[Corpus]map[Key]string
}

// NewStore creates a passage store over the given sources. Nothing is
// fetched until the first Resolve touches a source's corpus.
func NewStore(sources []Source, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{
		fs:      afs.New(),
		logger:  logger,
		sources: sources,
		loaded:  make(map[string]bool),
		texts: map[Corpus]map[Key]string{
			CorpusCFR: {},
			CorpusM21: {},
		},
	}
}

// Resolve returns the passage text for key within corpus. Absent citations,
// unknown partitions and source load failures all report found=false; a
// retrieval result must never fail the request over a missing passage.
func (s *Store) Resolve(ctx context.Context, corpus Corpus, key Key) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, src := range s.sources {
		if src.Corpus != corpus || s.loaded[src.URL] {
			continue
		}
		s.loaded[src.URL] = true
		if err := s.loadLocked(ctx, src); err != nil {
			s.logger.Warn("passage source load failed",
				"corpus", string(src.Corpus),
				"partition", src.Partition,
				"url", src.URL,
				"error", err)
		}
	}

	byKey, ok := s.texts[corpus]
	if !ok {
		return "", false
	}
	text, ok := byKey[key]
	return text, ok
}

// loadLocked fetches and indexes one source. Caller holds s.mu.
func (s *Store) loadLocked(ctx context.Context, src Source) error {
	data, err := s.fs.DownloadWithURL(ctx, src.URL)
	if err != nil {
		return fmt.Errorf("download %s: %w", src.URL, err)
	}

	var passages []passage
	if err := json.Unmarshal(data, &passages); err != nil {
		return fmt.Errorf("parse %s: %w", src.URL, err)
	}

	indexed := 0
	for _, p := range passages {
		if p.Text == "" {
			continue
		}
		key, ok := passageKey(src, p)
		if !ok {
			continue
		}
		s.texts[src.Corpus][key] = p.Text
		indexed++
	}

	s.logger.Info("passage source indexed",
		"corpus", string(src.Corpus),
		"partition", src.Partition,
		"passages", indexed)
	return nil
}

// passageKey derives the citation key for one passage, falling back to the
// source's declared partition when the entry omits its own.
func passageKey(src Source, p passage) (Key, bool) {
	var number, partition string
	switch src.Corpus {
	case CorpusCFR:
		number = p.Metadata.SectionNumber
		partition = p.Metadata.PartNumber
	case CorpusM21:
		number = p.Metadata.ArticleNumber
		partition = p.Metadata.Manual
	}
	if partition == "" {
		partition = src.Partition
	}
	if number == "" {
		return Key{}, false
	}
	return Key{Number: number, Partition: partition}, true
}
